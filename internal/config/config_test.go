package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/daniil-berg/callbot/internal/backend/openai"
)

// validEnv is the smallest environment the server starts with.
func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_SECRET", "secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoad_Defaults(t *testing.T) {
	validEnv(t)
	for _, key := range []string{"SERVER_PORT", "BACKEND", "SPEECH_START_TIMEOUT", "AUTH_TOKEN_TTL", "PLUGINS", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Backend != openai.Name {
		t.Errorf("server = %+v, backend = %q", cfg.Server, cfg.Backend)
	}
	if cfg.Call.SpeechStartTimeout != 15*time.Second {
		t.Errorf("SpeechStartTimeout = %v", cfg.Call.SpeechStartTimeout)
	}
	if cfg.Auth.TTL != 15*time.Minute {
		t.Errorf("token TTL = %v", cfg.Auth.TTL)
	}
	if len(cfg.Plugins) != 0 {
		t.Errorf("Plugins = %v", cfg.Plugins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_Values(t *testing.T) {
	validEnv(t)
	dir := t.TempDir()
	instructions := filepath.Join(dir, "instructions.txt")
	if err := os.WriteFile(instructions, []byte("You are a caller.\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_INSTRUCTIONS_FILE", instructions)
	t.Setenv("OPENAI_INIT_CONVERSATION_PROMPT", "Greet $firstname.")
	t.Setenv("OPENAI_TEMPERATURE", "0.8")
	t.Setenv("OPENAI_LOG_EVENT_TYPES", "error, response.done,")
	t.Setenv("SPEECH_START_TIMEOUT", "20")
	t.Setenv("AUTH_TOKEN_TTL", "1h")
	t.Setenv("PLUGINS", "call_record,summary")
	t.Setenv("PUBLIC_BASE_URL", "https://bot.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAI.Instructions != "You are a caller." {
		t.Errorf("Instructions = %q", cfg.OpenAI.Instructions)
	}
	if cfg.Call.InitConversationPrompt != "Greet $firstname." {
		t.Errorf("InitConversationPrompt = %q", cfg.Call.InitConversationPrompt)
	}
	if cfg.OpenAI.Temperature == nil || *cfg.OpenAI.Temperature != 0.8 {
		t.Errorf("Temperature = %v", cfg.OpenAI.Temperature)
	}
	if !reflect.DeepEqual(cfg.OpenAI.LogEventTypes, []string{"error", "response.done"}) {
		t.Errorf("LogEventTypes = %v", cfg.OpenAI.LogEventTypes)
	}
	if cfg.Call.SpeechStartTimeout != 20*time.Second || cfg.Auth.TTL != time.Hour {
		t.Errorf("durations = %v, %v", cfg.Call.SpeechStartTimeout, cfg.Auth.TTL)
	}
	if !cfg.HasPlugin("summary") || cfg.HasPlugin("status") {
		t.Errorf("Plugins = %v", cfg.Plugins)
	}
	if cfg.Server.PublicBaseURL != "https://bot.example.com" {
		t.Errorf("PublicBaseURL = %q", cfg.Server.PublicBaseURL)
	}
}

func TestLoad_ParseErrors(t *testing.T) {
	validEnv(t)
	t.Setenv("SERVER_PORT", "eighty")
	t.Setenv("LOG_TRANSCRIPT", "maybe")
	t.Setenv("OPENAI_INSTRUCTIONS_FILE", filepath.Join(t.TempDir(), "missing.txt"))

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded")
	}
	for _, key := range []string{"SERVER_PORT", "LOG_TRANSCRIPT", "OPENAI_INSTRUCTIONS_FILE"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		wants []string
	}{
		{"missing secrets", map[string]string{"AUTH_SECRET": "", "OPENAI_API_KEY": ""}, []string{"AUTH_SECRET", "OPENAI_API_KEY"}},
		{"elevenlabs without key", map[string]string{"BACKEND": "openai_elevenlabs"}, []string{"ELEVENLABS_API_KEY", "ELEVENLABS_VOICE_ID"}},
		{"unknown backend", map[string]string{"BACKEND": "dialogflow"}, []string{"BACKEND"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, []string{"LOG_LEVEL"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, []string{"LOG_FORMAT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.Validate()
			if err == nil {
				t.Fatal("Validate() succeeded")
			}
			for _, want := range tt.wants {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %s", err, want)
				}
			}
		})
	}
}

func TestValidateCalling(t *testing.T) {
	validEnv(t)
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.ValidateCalling(); err == nil {
		t.Error("ValidateCalling() succeeded without Twilio credentials")
	}

	cfg.Twilio = TwilioConfig{AccountSid: "AC1", AuthToken: "token", PhoneNumber: "+15550100"}
	cfg.Server.PublicBaseURL = "https://bot.example.com"
	if err := cfg.ValidateCalling(); err != nil {
		t.Errorf("ValidateCalling() error = %v", err)
	}
}

func TestLogConfig_Build(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := LogConfig{Level: "debug", Format: format}.Build()
		if err != nil {
			t.Fatalf("Build(%s) error = %v", format, err)
		}
		if !logger.Core().Enabled(-1) {
			t.Errorf("%s logger does not log debug", format)
		}
	}
}
