package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/daniil-berg/callbot/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("AUTH_SECRET", "cli-secret")
	t.Setenv("AUTH_ISSUER", "callbot")

	out, err := execute(t, "token")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}
	token := strings.TrimSpace(out)

	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: "cli-secret", Issuer: "callbot"}, auth.NewMemoryTokenStore())
	if err != nil {
		t.Fatal(err)
	}
	claims, err := tokens.Validate(token)
	if err != nil {
		t.Fatalf("printed token invalid: %v", err)
	}
	if claims.ID == "" {
		t.Error("printed token has no jti")
	}
}

func TestTokenCmd_NoSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	if _, err := execute(t, "token"); err == nil || !strings.Contains(err.Error(), "AUTH_SECRET") {
		t.Errorf("error = %v", err)
	}
}

func TestVerbosityFlagsExclusive(t *testing.T) {
	t.Setenv("AUTH_SECRET", "cli-secret")
	if _, err := execute(t, "-v", "-q", "token"); err == nil {
		t.Error("-v and -q accepted together")
	}
}

func TestServeCmd_InvalidConfig(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("OPENAI_API_KEY", "")
	_, err := execute(t, "serve", "-P", "9090")
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("error = %v", err)
	}
}

func TestCallCmd_RequiresTwilio(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("PUBLIC_BASE_URL", "")
	if _, err := execute(t, "call", "+4930123456"); err == nil {
		t.Error("call succeeded without Twilio configuration")
	}
}
