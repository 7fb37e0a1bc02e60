package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/domain/repositories"
	"github.com/daniil-berg/callbot/internal/auth"
	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/metrics"
)

// Caller places outbound calls.
type Caller interface {
	Call(ctx context.Context, contact *entities.Contact) (string, error)
}

// TokenRedeemer validates and invalidates single-use tokens.
type TokenRedeemer interface {
	RedeemAndInvalidate(ctx context.Context, token string) (*auth.Claims, error)
}

// TwilioConfig is what the webhook handlers need to know about the Twilio
// account.
type TwilioConfig struct {
	AccountSid        string
	AuthToken         string
	ValidateSignature bool
	// PublicBaseURL is the URL Twilio used to reach us, needed to check
	// request signatures behind proxies.
	PublicBaseURL string
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	// Context bounds the lifetime of calls. Cancelling it ends all calls.
	Context     context.Context
	Backend     call.BackendFactory
	CallOptions call.Options
	Tokens      TokenRedeemer
	Registry    *call.Registry
	Metrics     *metrics.Metrics
	Contacts    repositories.ContactRepository
	Caller      Caller
	Twilio      TwilioConfig
	PhoneRegion string
	Logger      *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, s *Server) {
	if s.Context == nil {
		s.Context = context.Background()
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.Registry == nil {
		s.Registry = call.NewRegistry(s.Logger)
	}

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "Hello, I am the callbot."})
	})

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"service": "callbot",
			"calls":   s.Registry.Len(),
		})
	})

	// Twilio media stream
	e.GET("/stream", s.stream)

	// Twilio webhooks
	e.POST("/amdstatus", s.amdStatus, s.twilioSignature)

	// Token protected APIs
	e.POST("/call/:phone", s.placeCall, s.requireToken)
	e.POST("/contacts", s.createContact, s.requireToken)

	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	}
}
