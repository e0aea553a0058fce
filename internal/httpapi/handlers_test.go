package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"rentory/internal/domain"
	"rentory/internal/service"
	"rentory/internal/store/memory"
)

const testSecret = "test-secret-key-with-enough-length"

// newTestAPI builds the full handler stack over the seeded in-memory store so
// tests exercise the complete request path.
func newTestAPI(t *testing.T, opts Options) (*API, *TokenVerifier) {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Dependencies{})
	tokens := NewTokenVerifier(testSecret, "")
	pin, err := NewManagerPIN("482913")
	if err != nil {
		t.Fatalf("manager pin: %v", err)
	}
	api, err := New(svc, tokens, pin, opts)
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	return api, tokens
}

func mustToken(t *testing.T, tokens *TokenVerifier, username, role string) string {
	t.Helper()
	token, err := tokens.Sign(username, role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			payload.WriteString(raw)
		} else if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func purchaseBody() map[string]any {
	return map[string]any{
		"supplier_id":   memory.SeedSupplierID,
		"location_id":   memory.SeedLocationID,
		"purchase_date": "2024-02-29",
		"items": []map[string]any{
			{"item_id": memory.SeedItemTentID, "quantity": 2, "unit_cost": "100", "discount_amount": 20, "tax_rate": 18, "condition": "A"},
			{"item_id": memory.SeedItemChairID, "quantity": 10, "unit_cost": 5, "condition": "A"},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t, Options{})

	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestNewPurchaseReturns201(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	token := mustToken(t, tokens, "rina", "staff")

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/transactions/new-purchase", token, purchaseBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.TransactionCreatedResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.TransactionNumber != "PUR-20240229-0001" || resp.TransactionID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Data.TotalAmount.String() != "262.4" {
		t.Fatalf("expected total 262.4, got %s", resp.Data.TotalAmount)
	}
	if resp.Data.CreatedBy != "rina" {
		t.Fatalf("expected created_by from token subject, got %q", resp.Data.CreatedBy)
	}

	rec = doJSON(t, api.Handler(), http.MethodGet, "/api/transactions/"+resp.TransactionID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on lookup, got %d", rec.Code)
	}
}

func TestValidationErrorShape(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	token := mustToken(t, tokens, "rina", "staff")

	body := purchaseBody()
	body["supplier_id"] = "not-a-uuid"
	body["items"] = []map[string]any{}

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/transactions/new-purchase", token, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Detail []struct {
			Type string `json:"type"`
			Loc  []any  `json:"loc"`
			Msg  string `json:"msg"`
		} `json:"detail"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Detail) < 2 {
		t.Fatalf("expected every violation reported, got %+v", resp.Detail)
	}
	for _, d := range resp.Detail {
		if len(d.Loc) == 0 || d.Loc[0] != "body" || d.Msg == "" || d.Type == "" {
			t.Fatalf("malformed detail %+v", d)
		}
	}
}

func decodeDetails(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp struct {
		Detail []struct {
			Loc []any `json:"loc"`
		} `json:"detail"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	locs := make([]string, 0, len(resp.Detail))
	for _, d := range resp.Detail {
		parts := make([]string, len(d.Loc))
		for i, part := range d.Loc {
			parts[i] = fmt.Sprint(part)
		}
		locs = append(locs, strings.Join(parts, "."))
	}
	return locs
}

func TestUnusableNumbersAre422(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	token := mustToken(t, tokens, "rina", "staff")

	emptyDiscount := purchaseBody()
	emptyDiscount["items"].([]map[string]any)[0]["discount_amount"] = ""

	mixed := purchaseBody()
	mixed["notes"] = strings.Repeat("n", 1001)
	mixed["items"].([]map[string]any)[0]["discount_amount"] = 500

	cases := []struct {
		name string
		path string
		body any
		want []string
	}{
		{"empty discount", "/api/transactions/new-purchase", emptyDiscount, []string{"body.items.0.discount_amount"}},
		{"notes and discount together", "/api/transactions/new-purchase", mixed, []string{"body.notes", "body.items.0.discount_amount"}},
		{"period beyond int64", "/api/transactions/quote", map[string]any{
			"transaction_type": "RENTAL",
			"items":            []map[string]any{{"quantity": 1, "unit_price": 50, "rental_period": "18446744073709551616"}},
		}, []string{"body.items.0.rental_period"}},
		{"tax rate too precise", "/api/transactions/quote", map[string]any{
			"transaction_type": "SALE",
			"items":            []map[string]any{{"quantity": 1, "unit_price": 50, "tax_rate": "18.12345"}},
		}, []string{"body.items.0.tax_rate"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, api.Handler(), http.MethodPost, tc.path, token, tc.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
			}
			if got := decodeDetails(t, rec); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected details at %v, got %v", tc.want, got)
			}
		})
	}
}

func TestSequenceExhaustionIs409(t *testing.T) {
	api, _ := newTestAPI(t, Options{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/transactions/new-sale", nil)
	api.writeServiceError(rec, req, fmt.Errorf("commit: %w", service.ErrSequenceExhausted))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestMalformedJSONIs422(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	token := mustToken(t, tokens, "rina", "staff")

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/transactions/new-sale", token, `{"customer_id":`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	rec = doJSON(t, api.Handler(), http.MethodPost, "/api/transactions/new-sale", token, `{"surprise":true}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown field, got %d", rec.Code)
	}
}

func TestMissingSupplierIs404(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	token := mustToken(t, tokens, "rina", "staff")

	body := purchaseBody()
	body["supplier_id"] = "00000000-0000-4000-8000-000000000001"

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/transactions/new-purchase", token, body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["detail"] != "Supplier with ID 00000000-0000-4000-8000-000000000001 not found" {
		t.Fatalf("unexpected detail %q", resp["detail"])
	}
}

func TestInsufficientStockIs409(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	token := mustToken(t, tokens, "rina", "staff")

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/transactions/new-sale", token, map[string]any{
		"customer_id":      memory.SeedCustomerID,
		"location_id":      memory.SeedLocationID,
		"transaction_date": "2024-03-01",
		"items": []map[string]any{
			{"item_id": memory.SeedItemSpeakerID, "quantity": 1, "unit_price": 50, "condition": "A"},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequiresBearerToken(t *testing.T) {
	api, _ := newTestAPI(t, Options{})

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/items", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, api.Handler(), http.MethodGet, "/api/items", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}
}

func TestRebuildRequiresAdminRole(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	staff := mustToken(t, tokens, "rina", "staff")
	admin := mustToken(t, tokens, "root", "admin")
	body := map[string]any{"item_id": memory.SeedItemTentID, "location_id": memory.SeedLocationID, "dry_run": true}

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/stock/rebuild", staff, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rec.Code)
	}

	doJSON(t, api.Handler(), http.MethodPost, "/api/transactions/new-purchase", staff, purchaseBody())
	rec = doJSON(t, api.Handler(), http.MethodPost, "/api/stock/rebuild", admin, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReferenceListAndCreate(t *testing.T) {
	api, tokens := newTestAPI(t, Options{})
	manager := mustToken(t, tokens, "maya", "manager")

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/locations", manager, map[string]any{"code": "wh-2", "name": "Overflow"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api.Handler(), http.MethodGet, "/api/locations", manager, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Locations []domain.Location `json:"locations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	found := false
	for _, loc := range resp.Locations {
		if loc.Code == "WH-2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("created location missing from %+v", resp.Locations)
	}

	rec = doJSON(t, api.Handler(), http.MethodDelete, "/api/locations", manager, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
