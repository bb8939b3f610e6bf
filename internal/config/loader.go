package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fixer-ai/fixer/internal/toolhost"
)

// Default values applied by [LoadFromReader] when the corresponding field is
// left unset.
const (
	DefaultSMSPort              = 8000
	DefaultScriptTimeoutSeconds = 30
	DefaultListenTimeoutSeconds = 15
	DefaultTTSCommand           = "espeak-ng"
)

// ValidLLMProviders lists known diagnosis-LLM provider names.
// Used by [Validate] to warn about unrecognised names.
var ValidLLMProviders = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A .env file in the working directory, if present, is loaded into
// the environment first, and ${VAR} references in the file body are expanded
// before parsing so secrets never need to live in the config file itself.
// The PORT environment variable, when set, overrides sms.port.
func Load(path string) (*Config, error) {
	// Missing .env is fine; it only exists to supply secrets.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg, err := LoadFromReader(strings.NewReader(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("config: PORT environment variable %q is not a number: %w", port, err)
		}
		cfg.SMS.Port = p
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals. Environment overlays (${VAR} expansion, PORT) are applied
// by [Load] only.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.SMS.Port == 0 {
		cfg.SMS.Port = DefaultSMSPort
	}
	if cfg.Script.TimeoutSeconds == 0 {
		cfg.Script.TimeoutSeconds = DefaultScriptTimeoutSeconds
	}
	if cfg.Voice.ListenTimeoutSeconds == 0 {
		cfg.Voice.ListenTimeoutSeconds = DefaultListenTimeoutSeconds
	}
	if cfg.Voice.TTSCommand == "" {
		cfg.Voice.TTSCommand = DefaultTTSCommand
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// LLM provider — warn for unknown names, they may be typos or new backends.
	if cfg.LLM.Provider != "" && !slices.Contains(ValidLLMProviders, cfg.LLM.Provider) {
		slog.Warn("unknown llm provider — may be a typo",
			"provider", cfg.LLM.Provider,
			"known", ValidLLMProviders,
		)
	}
	if cfg.LLM.Provider != "" && cfg.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required when llm.provider is set"))
	}

	// Availability warnings — these modes fail at startup, not here.
	if cfg.Gemini.APIKey == "" {
		slog.Warn("gemini.api_key is empty; live mode will not be available")
	}
	if cfg.LLM.Provider == "" {
		slog.Warn("llm.provider is empty; cli, voice and sms modes will not be available")
	}
	if cfg.SMS.AuthToken == "" {
		slog.Warn("sms.auth_token is empty; webhook signature validation is disabled")
	}

	// SMS
	if cfg.SMS.Port < 0 || cfg.SMS.Port > 65535 {
		errs = append(errs, fmt.Errorf("sms.port %d is out of range [0, 65535]", cfg.SMS.Port))
	}

	// Script
	if cfg.Script.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("script.timeout_seconds %d must not be negative", cfg.Script.TimeoutSeconds))
	}

	// Voice
	if cfg.Voice.ListenTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("voice.listen_timeout_seconds %d must not be negative", cfg.Voice.ListenTimeoutSeconds))
	}

	// MCP servers
	serverNamesSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := serverNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			serverNamesSeen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == toolhost.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == toolhost.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}
