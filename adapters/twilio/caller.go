package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/internal/call"
)

// Config holds the account and addresses needed to place calls.
type Config struct {
	AccountSid  string
	AuthToken   string
	PhoneNumber string
	// PublicBaseURL is where Twilio reaches this server. The media stream
	// and the AMD callback are derived from it.
	PublicBaseURL string
}

// CallCreator is the part of the Twilio REST API the caller uses.
type CallCreator interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

// TokenIssuer issues single-use call tokens.
type TokenIssuer interface {
	Issue() (string, error)
}

// Caller places outbound calls that connect to the media stream endpoint.
type Caller struct {
	config    Config
	api       CallCreator
	tokens    TokenIssuer
	streamURL string
	amdURL    string
	logger    *zap.Logger
}

// New creates a caller using the Twilio REST client.
func New(config Config, tokens TokenIssuer, logger *zap.Logger) (*Caller, error) {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSid,
		Password: config.AuthToken,
	})
	return NewWithAPI(config, client.Api, tokens, logger)
}

// NewWithAPI creates a caller on top of any CallCreator.
func NewWithAPI(config Config, api CallCreator, tokens TokenIssuer, logger *zap.Logger) (*Caller, error) {
	if config.PhoneNumber == "" {
		return nil, errors.New("twilio phone number is required")
	}
	base, err := url.Parse(config.PublicBaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid public base URL %q", config.PublicBaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stream := *base
	stream.Scheme = "wss"
	stream.Path = "/stream"
	amd := *base
	amd.Path = "/amdstatus"

	return &Caller{
		config:    config,
		api:       api,
		tokens:    tokens,
		streamURL: stream.String(),
		amdURL:    amd.String(),
		logger:    logger,
	}, nil
}

// TwiML builds the instructions connecting the answered call to the media
// stream. The contact fields and the token travel as stream parameters.
func (c *Caller) TwiML(contact *entities.Contact, token string) (string, error) {
	fields := contact.Fields()
	fields[call.TokenParameter] = token

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parameters := make([]twiml.Element, 0, len(names))
	for _, name := range names {
		parameters = append(parameters, &twiml.VoiceParameter{Name: name, Value: fields[name]})
	}
	stream := &twiml.VoiceStream{Url: c.streamURL, InnerElements: parameters}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}

// Call dials the contact and returns the SID of the new call.
func (c *Caller) Call(ctx context.Context, contact *entities.Contact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token, err := c.tokens.Issue()
	if err != nil {
		return "", fmt.Errorf("issue call token: %w", err)
	}
	instructions, err := c.TwiML(contact, token)
	if err != nil {
		return "", fmt.Errorf("build TwiML: %w", err)
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(contact.Phone)
	params.SetFrom(c.config.PhoneNumber)
	params.SetTwiml(instructions)
	params.SetMachineDetection("Enable")
	params.SetAsyncAmd("true")
	params.SetAsyncAmdStatusCallback(c.amdURL)
	params.SetAsyncAmdStatusCallbackMethod("POST")

	resp, err := c.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to create call: %w", err)
	}
	if resp.Sid == nil || *resp.Sid == "" {
		return "", errors.New("twilio returned no call SID")
	}
	c.logger.Info("Outbound call created",
		zap.String("call_sid", *resp.Sid),
		zap.String("phone", contact.Phone))
	return *resp.Sid, nil
}
