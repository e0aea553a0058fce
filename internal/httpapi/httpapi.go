package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"rentory/internal/domain"
	"rentory/internal/logging"
	"rentory/internal/service"
	"rentory/internal/stock"
	"rentory/internal/store"
	"rentory/internal/validation"
)

const (
	defaultRateLimit = "120-M"
	pinRateLimit     = "8-M"
)

type Options struct {
	AllowedOrigin string
	// RateLimit uses the limiter format, e.g. "120-M". Empty means the default.
	RateLimit string
	Logger    *logrus.Logger
}

type API struct {
	service       *service.Service
	tokens        *TokenVerifier
	pin           *ManagerPIN
	allowedOrigin string
	logger        *logrus.Logger
	requestLimit  *limiter.Limiter
	pinLimiter    *limiter.Limiter
}

func New(svc *service.Service, tokens *TokenVerifier, pin *ManagerPIN, opts Options) (*API, error) {
	formatted := strings.TrimSpace(opts.RateLimit)
	if formatted == "" {
		formatted = defaultRateLimit
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	pinRate, err := limiter.NewRateFromFormatted(pinRateLimit)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	origin := strings.TrimSpace(opts.AllowedOrigin)
	if origin == "" {
		origin = "*"
	}
	return &API{
		service:       svc,
		tokens:        tokens,
		pin:           pin,
		allowedOrigin: origin,
		logger:        logger,
		requestLimit:  limiter.New(memory.NewStore(), rate),
		pinLimiter:    limiter.New(memory.NewStore(), pinRate),
	}, nil
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)

	anyRole := []string{"staff", "manager", "admin"}
	mux.HandleFunc("POST /api/transactions/new-purchase", a.requireAuth(a.handleNewPurchase, anyRole...))
	mux.HandleFunc("POST /api/transactions/new-sale", a.requireAuth(a.handleNewSale, anyRole...))
	mux.HandleFunc("POST /api/transactions/new-rental", a.requireAuth(a.handleNewRental, anyRole...))
	mux.HandleFunc("POST /api/transactions/returns", a.requireAuth(a.handleNewReturn, anyRole...))
	mux.HandleFunc("POST /api/transactions/quote", a.requireAuth(a.handleQuote, anyRole...))
	mux.HandleFunc("GET /api/transactions", a.requireAuth(a.handleListTransactions, anyRole...))
	mux.HandleFunc("GET /api/transactions/{id}", a.requireAuth(a.handleGetTransaction, anyRole...))
	mux.HandleFunc("POST /api/transactions/{id}/payments", a.requireAuth(a.handlePayment, anyRole...))
	mux.HandleFunc("POST /api/transactions/{id}/cancel", a.requireAuth(a.handleCancel, "manager", "admin"))

	mux.HandleFunc("GET /api/stock/levels", a.requireAuth(a.handleStockLevels, anyRole...))
	mux.HandleFunc("GET /api/stock/movements", a.requireAuth(a.handleStockMovements, anyRole...))
	mux.HandleFunc("POST /api/stock/adjustments", a.requireAuth(a.handleStockAdjustment, "manager", "admin"))
	mux.HandleFunc("POST /api/stock/rebuild", a.requireAuth(a.handleStockRebuild, "admin"))

	mux.HandleFunc("/api/suppliers", a.requireAuth(a.handleSuppliers, anyRole...))
	mux.HandleFunc("/api/customers", a.requireAuth(a.handleCustomers, anyRole...))
	mux.HandleFunc("/api/locations", a.requireAuth(a.handleLocations, anyRole...))
	mux.HandleFunc("/api/items", a.requireAuth(a.handleItems, anyRole...))

	limited := stdlib.NewMiddleware(a.requestLimit,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			writeDetail(w, http.StatusTooManyRequests, "too many requests")
		}),
	).Handler(mux)
	return a.withMiddleware(limited)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeDetail(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.tokens.ParseToken(token)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, err.Error())
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeDetail(w, http.StatusForbidden, "forbidden role")
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// checkPIN rate limits manager PIN attempts per client before comparing.
func (a *API) checkPIN(w http.ResponseWriter, r *http.Request, action, pin string) bool {
	ctx, err := a.pinLimiter.Get(r.Context(), "pin:"+action+":"+clientKey(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return false
	}
	if ctx.Reached {
		writeDetail(w, http.StatusTooManyRequests, "too many manager pin attempts")
		return false
	}
	if !a.pin.Validate(pin) {
		writeDetail(w, http.StatusForbidden, "invalid manager pin")
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC(),
	})
}

func (a *API) handleNewPurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := a.service.CreatePurchase(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleNewSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleNewRental(w http.ResponseWriter, r *http.Request) {
	var req domain.RentalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := a.service.CreateRental(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleNewReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := a.service.CreateReturn(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.QuoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := a.service.Quote(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := store.TransactionFilter{
		Type:  domain.TransactionType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type")))),
		Limit: parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500),
	}
	headers, err := a.service.ListTransactions(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": headers})
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	header, err := a.service.GetTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, header)
}

func (a *API) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	header, err := a.service.RecordPayment(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, header)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !a.checkPIN(w, r, "cancel", req.ManagerPIN) {
		return
	}
	header, err := a.service.CancelTransaction(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, header)
}

func (a *API) handleStockLevels(w http.ResponseWriter, r *http.Request) {
	filter := store.StockFilter{
		ItemID:     strings.TrimSpace(r.URL.Query().Get("item_id")),
		LocationID: strings.TrimSpace(r.URL.Query().Get("location_id")),
	}
	levels, err := a.service.ListStockLevels(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock_levels": levels})
}

func (a *API) handleStockMovements(w http.ResponseWriter, r *http.Request) {
	filter := store.MovementFilter{
		ItemID:     strings.TrimSpace(r.URL.Query().Get("item_id")),
		LocationID: strings.TrimSpace(r.URL.Query().Get("location_id")),
		Limit:      parsePositiveLimit(r.URL.Query().Get("limit"), 200, 1000),
	}
	movements, err := a.service.ListMovements(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleStockAdjustment(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !a.checkPIN(w, r, "adjust", req.ManagerPIN) {
		return
	}
	movement, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

func (a *API) handleStockRebuild(w http.ResponseWriter, r *http.Request) {
	var req domain.RebuildRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := a.service.RebuildStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	handleReference(a, w, r, "supplier", "suppliers", a.service.ListSuppliers, a.service.CreateSupplier)
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	handleReference(a, w, r, "customer", "customers", a.service.ListCustomers, a.service.CreateCustomer)
}

func (a *API) handleLocations(w http.ResponseWriter, r *http.Request) {
	handleReference(a, w, r, "location", "locations", a.service.ListLocations, a.service.CreateLocation)
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	handleReference(a, w, r, "item", "items", a.service.ListItems, a.service.CreateItem)
}

func handleReference[T any](
	a *API,
	w http.ResponseWriter,
	r *http.Request,
	single, plural string,
	list func(context.Context) ([]T, error),
	create func(context.Context, domain.ReferenceCreateRequest) (T, error),
) {
	switch r.Method {
	case http.MethodPost:
		var req domain.ReferenceCreateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		created, err := create(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{single: created})
	case http.MethodGet:
		rows, err := list(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{plural: rows})
	default:
		writeMethodNotAllowed(w)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(startedAt).String(),
		}).Info("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeBody writes the error response itself and reports whether the
// handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	err := decodeJSON(r, dest)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": validation.Decode(err)})
	return false
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *service.ValidationError
	var missing *service.NotFoundError
	var insufficient *stock.InsufficientStockError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": invalid.Details})
	case errors.As(err, &missing):
		writeDetail(w, http.StatusNotFound, missing.Error())
	case errors.Is(err, store.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "not found")
	case errors.As(err, &insufficient):
		writeDetail(w, http.StatusConflict, insufficient.Error())
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrInvalidState):
		writeDetail(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicateNumber):
		writeDetail(w, http.StatusConflict, "concurrent update, please retry")
	case errors.Is(err, service.ErrSequenceExhausted):
		writeDetail(w, http.StatusConflict, "no transaction numbers left for this date")
	case errors.Is(err, service.ErrForbidden):
		writeDetail(w, http.StatusForbidden, err.Error())
	default:
		// 5xx bodies stay generic; the cause goes to the log only.
		logging.LogError(a.logger, "httpapi", "writeServiceError", r.Method+" "+r.URL.Path, nil, err)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"detail": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
