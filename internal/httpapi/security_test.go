package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rentory/internal/store/memory"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api, _ := newTestAPI(t, Options{AllowedOrigin: "https://ops.example.com"})

	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("missing frame options header")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://ops.example.com" {
		t.Fatalf("unexpected origin header %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRequestRateLimitReturns429(t *testing.T) {
	api, _ := newTestAPI(t, Options{RateLimit: "3-M"})
	handler := api.Handler()

	for i := 0; i < 3; i++ {
		if rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestInvalidRateLimitFormatRejected(t *testing.T) {
	if _, err := New(nil, NewTokenVerifier(testSecret, ""), nil, Options{RateLimit: "lots"}); err == nil {
		t.Fatal("expected invalid rate format error")
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	token := mustToken(t, tokens, "rina", "staff")

	body := `{"notes":"` + strings.Repeat("x", 2<<20) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/transactions/new-purchase", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestStockAdjustmentRequiresManagerPIN(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	manager := mustToken(t, tokens, "maya", "manager")
	body := map[string]any{
		"item_id":         memory.SeedItemTentID,
		"location_id":     memory.SeedLocationID,
		"quantity_change": 4,
		"reason":          "found in back room",
		"manager_pin":     "000000",
	}

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/stock/adjustments", manager, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	body["manager_pin"] = "482913"
	rec = doJSON(t, api.Handler(), http.MethodPost, "/api/stock/adjustments", manager, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	manager := mustToken(t, tokens, "maya", "manager")
	handler := api.Handler()
	body := map[string]any{"reason": "duplicate entry", "manager_pin": "000000"}
	path := "/api/transactions/" + memory.SeedItemTentID + "/cancel"

	for i := 0; i < 8; i++ {
		if rec := doJSON(t, handler, http.MethodPost, path, manager, body); rec.Code != http.StatusForbidden {
			t.Fatalf("attempt %d: expected 403, got %d", i, rec.Code)
		}
	}
	if rec := doJSON(t, handler, http.MethodPost, path, manager, body); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("", 100, 500); got != 100 {
		t.Fatalf("expected fallback 100, got %d", got)
	}
	if got := parsePositiveLimit("-3", 100, 500); got != 100 {
		t.Fatalf("expected fallback for negative, got %d", got)
	}
	if got := parsePositiveLimit("9999", 100, 500); got != 500 {
		t.Fatalf("expected cap 500, got %d", got)
	}
}
