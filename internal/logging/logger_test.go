package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("creates logger with defaults", func(t *testing.T) {
		logger, err := NewLogger(NewDefaultConfig())
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "xml"
		_, err := NewLogger(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "format")
	})
}

func TestContextFields(t *testing.T) {
	t.Run("empty context yields no fields", func(t *testing.T) {
		assert.Empty(t, ContextFields(context.Background()))
	})

	t.Run("issue and event type are extracted", func(t *testing.T) {
		ctx := WithIssue(context.Background(), 42)
		ctx = WithEventType(ctx, "execute_worker")
		ctx = WithToken(ctx, "execute_worker:42:1:2:1700000000")

		fields := ContextFields(ctx)
		assert.Len(t, fields, 3)
	})
}

func TestLoggerContextInjection(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithIssue(context.Background(), 7)

	tl.Info(ctx, "state saved", zap.String("branch", "pilot/issue-7-add-healthcheck"))

	entries := tl.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 7, fields["issue"])
	assert.Equal(t, "pilot/issue-7-add-healthcheck", fields["branch"])
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"bogus", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := LevelFromString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
