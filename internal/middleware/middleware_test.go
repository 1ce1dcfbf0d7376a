package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"vatochito/gateway/internal/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

type stubVerifier map[string]models.Identity

func (s stubVerifier) Verify(token string) (models.Identity, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return models.Identity{}, models.ErrUnauthenticated
}

type stubMembers struct {
	members map[string]bool
	err     error
}

func (s stubMembers) IsMember(_ context.Context, conv, user string) (bool, error) {
	return s.members[conv+"/"+user], s.err
}

func newApp(members MembershipChecker) *fiber.App {
	app := fiber.New()
	app.Get("/c/:conversationID",
		Authenticate(stubVerifier{"good": {ID: "u1", Username: "ana"}}),
		RequireMember(members, "conversationID"),
		func(c *fiber.Ctx) error {
			id := GetIdentity(c)
			return c.SendString(id.ID + "@" + GetConversationID(c))
		})
	return app
}

func TestAuthenticateAndMembership(t *testing.T) {
	app := newApp(stubMembers{members: map[string]bool{"42/u1": true}})

	tests := []struct {
		name   string
		target string
		header string
		cookie string
		status int
	}{
		{"query token", "/c/42?token=good", "", "", fiber.StatusOK},
		{"bearer header", "/c/42", "Bearer good", "", fiber.StatusOK},
		{"cookie", "/c/42", "", "good", fiber.StatusOK},
		{"no token", "/c/42", "", "", fiber.StatusUnauthorized},
		{"bad token", "/c/42?token=bad", "", "", fiber.StatusUnauthorized},
		{"not a member", "/c/7?token=good", "", "", fiber.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.Header.Set("Cookie", "token="+tt.cookie)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestMembershipStoreDown(t *testing.T) {
	app := newApp(stubMembers{err: errors.New("db down")})
	resp, err := app.Test(httptest.NewRequest("GET", "/c/42?token=good", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestServiceKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		hash   string
		key    string
		status int
	}{
		{"valid key", string(hash), "s3cret", fiber.StatusOK},
		{"wrong key", string(hash), "guess", fiber.StatusUnauthorized},
		{"missing key", string(hash), "", fiber.StatusUnauthorized},
		{"disabled", "", "s3cret", fiber.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/p", ServiceKey(tt.hash), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

			req := httptest.NewRequest("POST", "/p", nil)
			if tt.key != "" {
				req.Header.Set(HeaderGatewayKey, tt.key)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestCorrelationID(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(GetCorrelationID(c)) })

	resp, _ := app.Test(httptest.NewRequest("GET", "/", nil))
	if got := resp.Header.Get(HeaderCorrelationID); len(got) != 27 {
		t.Errorf("minted correlation ID = %q", got)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderCorrelationID, "abc")
	resp, _ = app.Test(req)
	if got := resp.Header.Get(HeaderCorrelationID); got != "abc" {
		t.Errorf("correlation ID = %q, want caller's", got)
	}
}

func TestRateLimiter(t *testing.T) {
	app := fiber.New()
	app.Get("/", RateLimiter(2, time.Minute), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	var last int
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatal(err)
		}
		last = resp.StatusCode
	}
	if last != fiber.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidPayload, 400},
		{fmt.Errorf("wrapped: %w", models.ErrNotFound), 404},
		{models.ErrForbidden, 403},
		{models.ErrInvalidTransition, 409},
		{fmt.Errorf("%w: timeout", models.ErrStoreUnavailable), 503},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
