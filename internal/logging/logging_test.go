package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestForEnv(t *testing.T) {
	assert.Equal(t, "json", ForEnv("production", "info", "").Format)
	assert.Equal(t, "console", ForEnv("development", "info", "").Format)
	assert.Equal(t, "json", ForEnv("development", "info", "json").Format)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for input, want := range cases {
		assert.Equal(t, want, parseLevel(input), input)
	}
}

func TestNewLogger(t *testing.T) {
	logger := New(Config{Level: "debug", Format: "json"})
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
