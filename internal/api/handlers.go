package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/domain/repositories"
	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/websocket"
)

// stream bridges one Twilio media stream to a new backend session.
func (s *Server) stream(c echo.Context) error {
	conn, err := websocket.Upgrade(c, "twilio", s.Logger)
	if err != nil {
		// The upgrader already responded.
		return nil
	}

	ctx := s.Context
	backend, err := s.Backend(ctx, s.Logger)
	if err != nil {
		s.Logger.Error("Failed to connect backend", zap.Error(err))
		conn.CloseWithCode(websocket.CloseInternalServerErr, "backend unavailable")
		return nil
	}

	opts := s.CallOptions
	opts.Logger = s.Logger
	opts.Registry = s.Registry
	opts.Metrics = s.Metrics
	if opts.Tokens == nil {
		opts.Tokens = s.Tokens
	}
	m := call.NewManager(conn, backend, opts)
	m.Run(ctx)
	return nil
}

// amdStatus routes the result of answering machine detection to the live
// call.
func (s *Server) amdStatus(c echo.Context) error {
	var status AMDStatus
	if err := c.Bind(&status); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid AMD status form",
		})
	}
	logger := s.Logger.With(
		zap.String("call_sid", status.CallSid),
		zap.String("answered_by", status.AnsweredBy))

	if status.AccountSid != s.Twilio.AccountSid {
		logger.Error("AMD status for foreign account", zap.String("account_sid", status.AccountSid))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "account_mismatch",
			Message: "Unknown account",
		})
	}

	m, ok := s.Registry.Get(status.CallSid)
	if !ok {
		logger.Warn("AMD status for unknown call")
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "call_not_found",
			Message: "No live call with this SID",
		})
	}

	detection := time.Duration(status.MachineDetectionDuration) * time.Millisecond
	switch status.AnsweredBy {
	case "human":
		logger.Info("Human answered", zap.Duration("detection_time", detection))
	case "unknown":
		logger.Warn("Answering machine detection inconclusive", zap.Duration("detection_time", detection))
	default:
		m.Abort(call.AnsweringMachineDetected(status.AnsweredBy, detection))
	}
	return c.NoContent(http.StatusNoContent)
}

// placeCall calls a stored contact.
func (s *Server) placeCall(c echo.Context) error {
	if s.Caller == nil || s.Contacts == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "calling_disabled",
			Message: "Outbound calls are not configured",
		})
	}
	ctx := c.Request().Context()

	phone, err := entities.NormalizePhone(c.Param("phone"), s.PhoneRegion)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_phone",
			Message: err.Error(),
		})
	}
	contact, err := s.Contacts.FindByPhone(ctx, phone)
	if errors.Is(err, repositories.ErrContactNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "contact_not_found",
			Message: "No contact with phone " + phone,
		})
	}
	if err != nil {
		s.Logger.Error("Failed to look up contact", zap.String("phone", phone), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}

	callSid, err := s.Caller.Call(ctx, contact)
	if err != nil {
		s.Logger.Error("Failed to place call", zap.String("phone", phone), zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "call_failed",
			Message: "Twilio rejected the call",
		})
	}
	s.Logger.Info("Call placed", zap.String("call_sid", callSid), zap.String("phone", phone))
	return c.JSON(http.StatusOK, CallResponse{CallSid: callSid})
}

// createContact validates and stores a contact.
func (s *Server) createContact(c echo.Context) error {
	if s.Contacts == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "contacts_disabled",
			Message: "No contact store configured",
		})
	}
	var contact entities.Contact
	if err := c.Bind(&contact); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	contact.ID = primitive.NilObjectID
	contact.CreatedAt = time.Time{}
	if err := contact.Normalize(s.PhoneRegion); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_contact",
			Message: err.Error(),
		})
	}

	err := s.Contacts.Create(c.Request().Context(), &contact)
	if errors.Is(err, repositories.ErrDuplicateContact) {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "duplicate_contact",
			Message: err.Error(),
		})
	}
	if err != nil {
		s.Logger.Error("Failed to store contact", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
	return c.JSON(http.StatusCreated, contact)
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
