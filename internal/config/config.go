package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daniil-berg/callbot/internal/auth"
	"github.com/daniil-berg/callbot/internal/backend/openai"
	"github.com/daniil-berg/callbot/internal/backend/openaielevenlabs"
	"github.com/daniil-berg/callbot/internal/call"
)

// Config holds application configuration.
type Config struct {
	Server     ServerConfig
	Auth       auth.TokenConfig
	Twilio     TwilioConfig
	Backend    string
	OpenAI     openai.Config
	ElevenLabs openaielevenlabs.Config
	Call       CallConfig
	Mongo      MongoConfig
	Gemini     GeminiConfig
	Plugins    []string
	Log        LogConfig
	Metrics    bool
}

type ServerConfig struct {
	Host string
	Port int
	// PublicBaseURL is where Twilio reaches this server, e.g.
	// https://bot.example.com.
	PublicBaseURL string
}

// Address returns host:port to listen on.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type TwilioConfig struct {
	AccountSid        string
	AuthToken         string
	PhoneNumber       string
	ValidateSignature bool
}

type CallConfig struct {
	SpeechStartTimeout     time.Duration
	InitConversationPrompt string
	LogTranscript          bool
	DefaultPhoneRegion     string
}

type MongoConfig struct {
	URI      string
	Database string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads the environment, after loading a .env file if there is one.
// It fails only on values that cannot be parsed.
func Load() (*Config, error) {
	// A missing .env file is fine, the environment may be set otherwise.
	_ = godotenv.Load()

	var errs []error
	env := &reader{errs: &errs}

	cfg := &Config{
		Server: ServerConfig{
			Host:          env.str("SERVER_HOST", "0.0.0.0"),
			Port:          env.int("SERVER_PORT", 8080),
			PublicBaseURL: strings.TrimRight(env.str("PUBLIC_BASE_URL", ""), "/"),
		},
		Auth: auth.TokenConfig{
			Secret:    env.str("AUTH_SECRET", ""),
			Algorithm: env.str("AUTH_ALGORITHM", "HS256"),
			Issuer:    env.str("AUTH_ISSUER", ""),
			Audience:  env.str("AUTH_AUDIENCE", ""),
			TTL:       env.duration("AUTH_TOKEN_TTL", auth.DefaultTokenTTL),
		},
		Twilio: TwilioConfig{
			AccountSid:        env.str("TWILIO_ACCOUNT_SID", ""),
			AuthToken:         env.str("TWILIO_AUTH_TOKEN", ""),
			PhoneNumber:       env.str("TWILIO_PHONE_NUMBER", ""),
			ValidateSignature: env.bool("TWILIO_VALIDATE_SIGNATURE", true),
		},
		Backend: env.str("BACKEND", openai.Name),
		OpenAI: openai.Config{
			APIKey:             env.str("OPENAI_API_KEY", ""),
			URL:                env.str("OPENAI_REALTIME_URL", openai.DefaultURL),
			Model:              env.str("OPENAI_MODEL", openai.DefaultModel),
			Voice:              env.str("OPENAI_VOICE", openai.DefaultVoice),
			Instructions:       env.text("OPENAI_INSTRUCTIONS"),
			Temperature:        env.float("OPENAI_TEMPERATURE"),
			Speed:              env.float("OPENAI_SPEED"),
			TranscriptionModel: env.str("OPENAI_TRANSCRIPTION_MODEL", openai.DefaultTranscriptionModel),
			LogEventTypes:      env.list("OPENAI_LOG_EVENT_TYPES"),
		},
		ElevenLabs: openaielevenlabs.Config{
			APIKey:  env.str("ELEVENLABS_API_KEY", ""),
			VoiceID: env.str("ELEVENLABS_VOICE_ID", ""),
			ModelID: env.str("ELEVENLABS_MODEL_ID", openaielevenlabs.DefaultModelID),
			URL:     env.str("ELEVENLABS_URL", openaielevenlabs.DefaultURL),
		},
		Call: CallConfig{
			SpeechStartTimeout:     env.duration("SPEECH_START_TIMEOUT", call.DefaultSpeechStartTimeout),
			InitConversationPrompt: env.text("OPENAI_INIT_CONVERSATION_PROMPT"),
			LogTranscript:          env.bool("LOG_TRANSCRIPT", false),
			DefaultPhoneRegion:     strings.ToUpper(env.str("DEFAULT_PHONE_REGION", "DE")),
		},
		Mongo: MongoConfig{
			URI:      env.str("MONGODB_URI", ""),
			Database: env.str("MONGODB_DATABASE", "callbot"),
		},
		Gemini: GeminiConfig{
			APIKey: env.str("GEMINI_API_KEY", ""),
			Model:  env.str("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		Plugins: env.list("PLUGINS"),
		Log: LogConfig{
			Level:  env.str("LOG_LEVEL", "info"),
			Format: env.str("LOG_FORMAT", "json"),
		},
		Metrics: env.bool("METRICS_ENABLED", true),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT %d out of range", c.Server.Port))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("AUTH_SECRET is required"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	switch c.Backend {
	case openai.Name:
	case openaielevenlabs.Name:
		if c.ElevenLabs.APIKey == "" {
			errs = append(errs, errors.New("ELEVENLABS_API_KEY is required for the openai_elevenlabs backend"))
		}
		if c.ElevenLabs.VoiceID == "" {
			errs = append(errs, errors.New("ELEVENLABS_VOICE_ID is required for the openai_elevenlabs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("BACKEND %q unknown (expected %s or %s)", c.Backend, openai.Name, openaielevenlabs.Name))
	}
	if c.Call.SpeechStartTimeout <= 0 {
		errs = append(errs, errors.New("SPEECH_START_TIMEOUT must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q unknown (expected json or console)", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ValidateCalling reports configuration missing for placing calls.
func (c *Config) ValidateCalling() error {
	var errs []error
	if c.Twilio.AccountSid == "" || c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required"))
	}
	if c.Twilio.PhoneNumber == "" {
		errs = append(errs, errors.New("TWILIO_PHONE_NUMBER is required"))
	}
	if !strings.HasPrefix(c.Server.PublicBaseURL, "https://") && !strings.HasPrefix(c.Server.PublicBaseURL, "http://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL %q must be an http(s) URL", c.Server.PublicBaseURL))
	}
	return errors.Join(errs...)
}

// HasPlugin reports whether the named plugin is enabled.
func (c *Config) HasPlugin(name string) bool {
	for _, p := range c.Plugins {
		if p == name {
			return true
		}
	}
	return false
}

// Build creates the application logger.
func (l LogConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// reader reads typed environment variables and collects parse errors.
type reader struct {
	errs *[]error
}

func (r *reader) fail(key string, err error) {
	*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
}

func (r *reader) str(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// text reads key, or the file named by key_FILE.
func (r *reader) text(key string) string {
	if path := r.str(key+"_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			r.fail(key+"_FILE", err)
			return ""
		}
		return strings.TrimSpace(string(data))
	}
	return r.str(key, "")
}

func (r *reader) int(key string, fallback int) int {
	v := r.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return fallback
	}
	return n
}

func (r *reader) bool(key string, fallback bool) bool {
	v := r.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return fallback
	}
	return b
}

func (r *reader) float(key string) *float64 {
	v := r.str(key, "")
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, err)
		return nil
	}
	return &f
}

// duration accepts Go durations ("15s") and plain seconds ("15").
func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return fallback
	}
	return d
}

func (r *reader) list(key string) []string {
	var items []string
	for _, item := range strings.Split(r.str(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
