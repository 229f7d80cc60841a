package logger

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/cinematch/internal/config"
)

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: FormatText, Component: ComponentServer, Output: &buf})
	l.Info("match created", "user", "u1")

	out := buf.String()
	assert.Contains(t, out, `msg="match created"`)
	assert.Contains(t, out, "component="+ComponentServer)
	assert.Contains(t, out, "user=u1")
	assert.Regexp(t, `time=\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`, out)
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "JSON", Component: ComponentSeed, Output: &buf})
	l.Info("seeded", "users", 20)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "seeded", line["msg"])
	assert.Equal(t, ComponentSeed, line["component"])
	assert.EqualValues(t, 20, line["users"])
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "error", Output: &buf})
	l.Info("should not appear")
	l.Error("should appear")

	assert.NotContains(t, buf.String(), "should not appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestSubsystemKeepsComponent(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "debug", Component: ComponentServer, Output: &buf})
	Subsystem(base, SubsystemSweeper).Info("cooldowns expired", "count", 3)

	out := buf.String()
	assert.Contains(t, out, "component="+ComponentServer)
	assert.Contains(t, out, "subsystem="+SubsystemSweeper)
	assert.Contains(t, out, "count=3")
}

func TestFromAppConfigComponent(t *testing.T) {
	cfg := config.New()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"

	// the binary names itself when LOG_COMPONENT is unset
	cfg.Log.Component = ""
	lc := fromAppConfig(cfg, ComponentSeed)
	assert.Equal(t, ComponentSeed, lc.Component)
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, FormatJSON, lc.Format)

	cfg.Log.Component = "canary"
	assert.Equal(t, "canary", fromAppConfig(cfg, ComponentSeed).Component)

	assert.Equal(t, ComponentServer, fromAppConfig(nil, ComponentServer).Component)
}

func TestInitReplacesGlobal(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Component: "test", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	With("req_id", "123").Info("processing request")
	assert.Contains(t, buf.String(), "req_id=123")
	assert.Contains(t, buf.String(), "component=test")
}
