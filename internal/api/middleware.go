package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/client"
	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/internal/auth"
)

// requireToken redeems the single-use bearer token of a request.
func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			s.Logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		if s.Tokens == nil {
			return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "auth_disabled"})
		}
		_, err := s.Tokens.RedeemAndInvalidate(c.Request().Context(), token)
		switch {
		case err == nil:
			s.Metrics.RecordTokenRedemption("accepted")
			return next(c)
		case errors.Is(err, auth.ErrTokenMissingID), errors.Is(err, auth.ErrTokenReused):
			s.Metrics.RecordTokenRedemption("rejected")
			s.Logger.Warn("Request rejected: token not redeemable", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: err.Error(),
			})
		case errors.Is(err, auth.ErrTokenInvalid):
			s.Metrics.RecordTokenRedemption("rejected")
			s.Logger.Warn("Request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_token",
				Message: err.Error(),
			})
		default:
			s.Logger.Error("Failed to redeem token", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		}
	}
}

// twilioSignature rejects webhooks not signed with the account's auth
// token.
func (s *Server) twilioSignature(next echo.HandlerFunc) echo.HandlerFunc {
	if !s.Twilio.ValidateSignature {
		return next
	}
	validator := client.NewRequestValidator(s.Twilio.AuthToken)
	return func(c echo.Context) error {
		form, err := c.FormParams()
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "Failed to parse form",
			})
		}
		params := make(map[string]string, len(form))
		for key, values := range form {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		url := s.Twilio.PublicBaseURL + c.Request().URL.RequestURI()
		signature := c.Request().Header.Get("X-Twilio-Signature")
		if !validator.Validate(url, params, signature) {
			s.Logger.Warn("Webhook rejected: invalid Twilio signature", zap.String("path", c.Path()))
			return c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "invalid_signature",
				Message: "Invalid Twilio signature",
			})
		}
		return next(c)
	}
}
