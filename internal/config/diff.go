package config

// ChangeSet describes what changed between two configs. The long-running SMS
// daemon applies log-level changes in place; everything else needs a restart
// and is only reported so it can be logged.
type ChangeSet struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartNeeded lists config sections whose changes cannot be applied to
	// a running process, in stable order.
	RestartNeeded []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ChangeSet {
	d := ChangeSet{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.MetricsAddr != new.Server.MetricsAddr {
		d.RestartNeeded = append(d.RestartNeeded, "server.metrics_addr")
	}
	if old.Gemini != new.Gemini {
		d.RestartNeeded = append(d.RestartNeeded, "gemini")
	}
	if old.LLM != new.LLM {
		d.RestartNeeded = append(d.RestartNeeded, "llm")
	}
	if old.SMS != new.SMS {
		d.RestartNeeded = append(d.RestartNeeded, "sms")
	}
	if old.History != new.History {
		d.RestartNeeded = append(d.RestartNeeded, "history")
	}
	if old.Script != new.Script {
		d.RestartNeeded = append(d.RestartNeeded, "script")
	}
	if !voiceEqual(&old.Voice, &new.Voice) {
		d.RestartNeeded = append(d.RestartNeeded, "voice")
	}
	if !mcpEqual(&old.MCP, &new.MCP) {
		d.RestartNeeded = append(d.RestartNeeded, "mcp")
	}

	return d
}

// voiceEqual compares voice configs; VoiceConfig holds a slice so it is not
// directly comparable.
func voiceEqual(a, b *VoiceConfig) bool {
	if a.ModelPath != b.ModelPath || a.Language != b.Language ||
		a.ListenTimeoutSeconds != b.ListenTimeoutSeconds || a.TTSCommand != b.TTSCommand {
		return false
	}
	if len(a.TTSArgs) != len(b.TTSArgs) {
		return false
	}
	for i := range a.TTSArgs {
		if a.TTSArgs[i] != b.TTSArgs[i] {
			return false
		}
	}
	return true
}

func mcpEqual(a, b *MCPConfig) bool {
	if len(a.Servers) != len(b.Servers) {
		return false
	}
	for i := range a.Servers {
		if !serverEqual(&a.Servers[i], &b.Servers[i]) {
			return false
		}
	}
	return true
}

func serverEqual(a, b *MCPServerConfig) bool {
	if a.Name != b.Name || a.Transport != b.Transport || a.Command != b.Command || a.URL != b.URL {
		return false
	}
	if len(a.Env) != len(b.Env) {
		return false
	}
	for k, v := range a.Env {
		if b.Env[k] != v {
			return false
		}
	}
	return true
}
