package logger

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetLogger resets the global logger state for testing.
func resetLogger() {
	logger = nil
	initOnce = sync.Once{}
}

func TestInit(t *testing.T) {
	t.Run("successful initialization with valid level", func(t *testing.T) {
		resetLogger()
		err := Init(WithLevel("info"))
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("successful initialization with default level", func(t *testing.T) {
		resetLogger()
		err := Init()
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("error with invalid level", func(t *testing.T) {
		resetLogger()
		err := Init(WithLevel("invalid"))
		assert.Error(t, err)
	})

	t.Run("init only once", func(t *testing.T) {
		resetLogger()

		err1 := Init(WithLevel("debug"))
		require.NoError(t, err1)
		first := logger

		err2 := Init(WithLevel("error"))
		require.NoError(t, err2)
		assert.Same(t, first, logger, "Init() should only initialize once")
	})
}

func TestSync(t *testing.T) {
	resetLogger()
	err := Init(WithLevel("info"))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		Sync()
	})
}

func TestLevelMethods(t *testing.T) {
	resetLogger()
	err := Init(WithLevel("debug"))
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("debug", func(t *testing.T) {
		assert.NotPanics(t, func() { Debug(ctx, "debug message", "key", "value") })
	})
	t.Run("info", func(t *testing.T) {
		assert.NotPanics(t, func() { Info(ctx, "info message", "key", "value") })
	})
	t.Run("warn", func(t *testing.T) {
		assert.NotPanics(t, func() { Warn(ctx, "warn message", "key", "value") })
	})
	t.Run("error", func(t *testing.T) {
		assert.NotPanics(t, func() { Error(ctx, "error message", "key", "value") })
	})
	t.Run("no key-value pairs", func(t *testing.T) {
		assert.NotPanics(t, func() { Info(ctx, "bare message") })
	})
}

func TestPanic(t *testing.T) {
	resetLogger()
	err := Init(WithLevel("debug"))
	require.NoError(t, err)

	assert.Panics(t, func() {
		Panic(context.Background(), "panic message")
	})
}

func TestFatal(t *testing.T) {
	if os.Getenv("TEST_FATAL_SUBPROCESS") == "1" {
		_ = Init(WithLevel("debug"))
		Fatal(context.Background(), "fatal error for test")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFatal")
	cmd.Env = append(os.Environ(), "TEST_FATAL_SUBPROCESS=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitErr, ok := err.(*exec.ExitError)
	assert.True(t, ok, "the subprocess should exit with a non-zero status")
	assert.Equal(t, 1, exitErr.ExitCode(), "logger.Fatal should terminate with exit code 1")
	assert.Contains(t, stdout.String(), `"level":"fatal"`)
}
