package config_test

import (
	"slices"
	"testing"

	"github.com/fixer-ai/fixer/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Voice:  config.VoiceConfig{TTSCommand: "say", TTSArgs: []string{"-v", "Daniel"}},
		MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
			{Name: "tools", Transport: "stdio", Command: "/bin/a", Env: map[string]string{"K": "v"}},
		}},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("expected no restart-needed sections, got %v", d.RestartNeeded)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("log level is hot-applied, got restart sections %v", d.RestartNeeded)
	}
}

func TestDiff_RestartSections(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Gemini: config.GeminiConfig{APIKey: "a"},
		SMS:    config.SMSConfig{Port: 8000, AuthToken: "t1"},
		Script: config.ScriptConfig{TimeoutSeconds: 30},
	}
	new := &config.Config{
		Gemini: config.GeminiConfig{APIKey: "b"},
		SMS:    config.SMSConfig{Port: 8000, AuthToken: "t2"},
		Script: config.ScriptConfig{TimeoutSeconds: 60},
	}

	d := config.Diff(old, new)
	for _, want := range []string{"gemini", "sms", "script"} {
		if !slices.Contains(d.RestartNeeded, want) {
			t.Errorf("expected %q in RestartNeeded, got %v", want, d.RestartNeeded)
		}
	}
	if slices.Contains(d.RestartNeeded, "voice") {
		t.Errorf("voice did not change, got %v", d.RestartNeeded)
	}
}

func TestDiff_VoiceArgsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Voice: config.VoiceConfig{TTSCommand: "say", TTSArgs: []string{"-v", "Alice"}}}
	new := &config.Config{Voice: config.VoiceConfig{TTSCommand: "say", TTSArgs: []string{"-v", "Bob"}}}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartNeeded, "voice") {
		t.Errorf("expected voice in RestartNeeded, got %v", d.RestartNeeded)
	}
}

func TestDiff_MCPServerChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/bin/a"},
	}}}
	new := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/bin/a"},
		{Name: "web", Transport: "streamable-http", URL: "https://example.com/mcp"},
	}}}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartNeeded, "mcp") {
		t.Errorf("expected mcp in RestartNeeded, got %v", d.RestartNeeded)
	}
}

func TestDiff_MCPEnvChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/bin/a", Env: map[string]string{"K": "v1"}},
	}}}
	new := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/bin/a", Env: map[string]string{"K": "v2"}},
	}}}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartNeeded, "mcp") {
		t.Errorf("expected mcp in RestartNeeded, got %v", d.RestartNeeded)
	}
}
