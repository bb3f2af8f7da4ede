package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	log := New()
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Str("ledger_id", "l-1").Msg("ledger created")

	assert.Contains(t, buf.String(), `"message":"ledger created"`)
	assert.Contains(t, buf.String(), `"ledger_id":"l-1"`)
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		want    zerolog.Level
		wantErr bool
	}{
		{"default", "", zerolog.InfoLevel, false},
		{"debug", "debug", zerolog.DebugLevel, false},
		{"upper case", " WARN ", zerolog.WarnLevel, false},
		{"unknown", "loud", zerolog.Disabled, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := NewFromConfig(tt.level, false, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestNewFromConfig_FiltersBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewFromConfig("warn", false, buf)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")

	assert.NotZero(t, buf.Len())
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"job_id": "job-1",
		"rows":   3,
	})

	log.Info().Msg("job started")

	assert.Contains(t, buf.String(), `"job_id":"job-1"`)
	assert.Contains(t, buf.String(), `"rows":3`)
}
