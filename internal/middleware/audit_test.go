package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestRequestIDAndAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	app := fiber.New()
	app.Use(RequestID(), Audit(logger))
	app.Get("/ok", func(c *fiber.Ctx) error {
		c.Locals(UserIDKey, "u-1")
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "nope")
	})

	req := httptest.NewRequest(fiber.MethodGet, "/ok", nil)
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != "req-1" {
		t.Fatalf("expected the caller's request id to be echoed, got %q", got)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/missing", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("expected a fresh uuid for an oversized id, got %q", got)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two audit records, got %d: %s", len(lines), buf.String())
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first["level"] != "INFO" || first["request_id"] != "req-1" || first["user_id"] != "u-1" {
		t.Fatalf("unexpected record %v", first)
	}
	if second["level"] != "WARN" || second["status"] != float64(fiber.StatusNotFound) {
		t.Fatalf("unexpected record %v", second)
	}
}
