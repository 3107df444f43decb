package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/telemetry"
)

func validConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:        "localhost:4317",
		TraceSampleRate: 1.0,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*telemetry.Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*telemetry.Config) {}, ok: true},
		{name: "pretty", mutate: func(c *telemetry.Config) { c.LogFormat = "PRETTY" }, ok: true},
		{name: "bad level", mutate: func(c *telemetry.Config) { c.LogLevel = "loud" }},
		{name: "empty level", mutate: func(c *telemetry.Config) { c.LogLevel = "" }},
		{name: "bad format", mutate: func(c *telemetry.Config) { c.LogFormat = "xml" }},
		{name: "enabled without endpoint", mutate: func(c *telemetry.Config) { c.Enabled = true; c.Endpoint = "" }},
		{name: "disabled without endpoint", mutate: func(c *telemetry.Config) { c.Endpoint = "" }, ok: true},
		{name: "sample rate", mutate: func(c *telemetry.Config) { c.TraceSampleRate = 1.5 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			if tc.ok {
				require.NoError(t, cfg.Validate())
			} else {
				require.Error(t, cfg.Validate())
			}
		})
	}
}

func TestNew_ComponentLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cfg := validConfig()
	cfg.LogLevel = "warn"
	tel, err := telemetry.New(context.Background(), "arena", cfg, telemetry.WithOutput(&buf))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	log := tel.GetLogger("lobby")
	log.Info().Msg("hidden")
	log.Warn().Str("code", "ABC123").Msg("visible")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "arena.lobby", line["component"])
	assert.Equal(t, "ABC123", line["code"])
	assert.Equal(t, "visible", line["message"])

	_, span := tel.Tracer.Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestNew_Rejects(t *testing.T) {
	t.Parallel()

	_, err := telemetry.New(context.Background(), "", validConfig())
	require.Error(t, err)

	cfg := validConfig()
	cfg.LogFormat = "xml"
	_, err = telemetry.New(context.Background(), "arena", cfg)
	require.Error(t, err)
}

func TestParseLogFormat(t *testing.T) {
	t.Parallel()
	assert.Equal(t, telemetry.LogFormatJSON, telemetry.ParseLogFormat("json"))
	assert.Equal(t, telemetry.LogFormatPretty, telemetry.ParseLogFormat("Pretty"))
	assert.Equal(t, telemetry.LogFormatUndefined, telemetry.ParseLogFormat(""))
	assert.Equal(t, "pretty", telemetry.LogFormatPretty.String())
}
