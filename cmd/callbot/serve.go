package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/adapters/llm"
	"github.com/daniil-berg/callbot/adapters/twilio"
	"github.com/daniil-berg/callbot/domain/repositories"
	"github.com/daniil-berg/callbot/internal/api"
	"github.com/daniil-berg/callbot/internal/auth"
	"github.com/daniil-berg/callbot/internal/backend/openai"
	"github.com/daniil-berg/callbot/internal/backend/openaielevenlabs"
	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/config"
	"github.com/daniil-berg/callbot/internal/functions"
	"github.com/daniil-berg/callbot/internal/metrics"
	"github.com/daniil-berg/callbot/internal/plugins"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the callbot server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			return serve(cfg, logger)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&host, "host", "H", "", "host/IP address to listen on")
	flags.IntVarP(&port, "port", "P", 0, "port to listen on")
	return cmd
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	tokens, err := auth.NewTokenService(cfg.Auth, st.usedTokens)
	if err != nil {
		return err
	}
	cleanup := auth.NewTokenCleanupService(st.usedTokens, 0, logger)
	cleanup.Start()
	defer cleanup.Stop()

	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.NewMetrics("callbot")
	}
	registry := call.NewRegistry(logger)

	summarizer, err := newSummarizer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	pluginSet, err := plugins.Load(cfg.Plugins, plugins.Env{
		Registry:    registry,
		CallRecords: st.callRecords,
		Summarizer:  summarizer,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	fns := functions.NewRegistry()
	if err := fns.Register(functions.Builtin()...); err != nil {
		return err
	}
	if err := fns.Register(pluginSet.Functions()...); err != nil {
		return err
	}
	logger.Debug("Available functions", zap.Strings("functions", fns.Names()))
	dispatcher := functions.NewDispatcher(fns)

	backends := call.Backends{
		openai.Name:           openai.Factory(cfg.OpenAI, dispatcher),
		openaielevenlabs.Name: openaielevenlabs.Factory(cfg.OpenAI, cfg.ElevenLabs, dispatcher),
	}
	backend, err := backends.Get(cfg.Backend)
	if err != nil {
		return err
	}

	hooks := call.NewHooks()
	pluginSet.RegisterHooks(hooks)

	var caller api.Caller
	if err := cfg.ValidateCalling(); err != nil {
		logger.Warn("Outbound calls disabled", zap.Error(err))
	} else {
		caller, err = twilio.New(twilioConfig(cfg), tokens, logger)
		if err != nil {
			return err
		}
	}

	// Cancelling callsCtx ends all live calls.
	callsCtx, cancelCalls := context.WithCancel(ctx)
	defer cancelCalls()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	api.InitRoutes(e, &api.Server{
		Context: callsCtx,
		Backend: backend,
		CallOptions: call.Options{
			BackendName:            cfg.Backend,
			Hooks:                  hooks,
			SpeechStartTimeout:     cfg.Call.SpeechStartTimeout,
			InitConversationPrompt: cfg.Call.InitConversationPrompt,
			LogTranscript:          cfg.Call.LogTranscript,
		},
		Tokens:   tokens,
		Registry: registry,
		Metrics:  m,
		Contacts: st.contacts,
		Caller:   caller,
		Twilio: api.TwilioConfig{
			AccountSid:        cfg.Twilio.AccountSid,
			AuthToken:         cfg.Twilio.AuthToken,
			ValidateSignature: cfg.Twilio.ValidateSignature,
			PublicBaseURL:     cfg.Server.PublicBaseURL,
		},
		PhoneRegion: cfg.Call.DefaultPhoneRegion,
		Logger:      logger,
	})
	pluginSet.BeforeStartup(e)

	// Graceful shutdown
	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	logger.Info("Callbot server started",
		zap.String("address", cfg.Server.Address()),
		zap.String("backend", cfg.Backend),
		zap.Strings("plugins", pluginSet.Names()))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Server is shutting down...", zap.Int("calls", registry.Len()))
	cancelCalls()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited")
	return nil
}

func newSummarizer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.Summarizer, error) {
	if !cfg.HasPlugin(plugins.SummaryName) {
		return nil, nil
	}
	if cfg.Gemini.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, summaries come from the mock summarizer")
		return llm.NewMockSummarizer(), nil
	}
	return llm.NewGeminiSummarizer(ctx, llm.GeminiConfig{
		APIKey: cfg.Gemini.APIKey,
		Model:  cfg.Gemini.Model,
	}, logger)
}

func twilioConfig(cfg *config.Config) twilio.Config {
	return twilio.Config{
		AccountSid:    cfg.Twilio.AccountSid,
		AuthToken:     cfg.Twilio.AuthToken,
		PhoneNumber:   cfg.Twilio.PhoneNumber,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	}
}

// requestLogger logs every HTTP request through zap.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("Request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("Request", fields...)
			return nil
		},
	})
}
