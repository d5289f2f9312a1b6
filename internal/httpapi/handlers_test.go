package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/metrics"
	"hardwarepos/backend/internal/service"
	"hardwarepos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier123")

	logger := slog.New(slog.DiscardHandler)
	repo := memory.NewSeeded()
	collector := metrics.New()
	svc := service.New(repo, nil, collector, service.Options{Logger: logger})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo, logger)

	return New(svc, auth, collector, "*", logger)
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func login(t *testing.T, handler http.Handler, username, password string) domain.LoginResponse {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func do(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type billEnvelope struct {
	Bill domain.BillSummary `json:"bill"`
}

type itemEnvelope struct {
	Item domain.Item `json:"item"`
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := do(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	handler := newTestAPI(t).Handler()

	resp := login(t, handler, "admin", "admin123")
	if resp.AccessToken == "" {
		t.Fatalf("expected access_token in response, got %+v", resp)
	}
	if resp.Role != domain.RoleAdmin || resp.UserID == 0 {
		t.Fatalf("unexpected login response: %+v", resp)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestItems_RequiresAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := do(t, handler, http.MethodGet, "/api/v1/items", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestItems_ListAndFilters(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123").AccessToken

	type itemsEnvelope struct {
		Items []domain.Item `json:"items"`
	}

	rec := do(t, handler, http.MethodGet, "/api/v1/items", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if all := decodeBody[itemsEnvelope](t, rec); len(all.Items) != 10 {
		t.Fatalf("expected 10 seeded items, got %d", len(all.Items))
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/items/low-stock", token, nil)
	low := decodeBody[itemsEnvelope](t, rec)
	if len(low.Items) != 3 {
		t.Fatalf("expected 3 low stock items, got %+v", low.Items)
	}
	for _, item := range low.Items {
		if item.StockQuantity < 1 || item.StockQuantity > 20 {
			t.Fatalf("item %s outside the low stock band: %d", item.CustomID, item.StockQuantity)
		}
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/items?name=Pipe", token, nil)
	if found := decodeBody[itemsEnvelope](t, rec); len(found.Items) != 2 {
		t.Fatalf("expected 2 pipe items, got %+v", found.Items)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/items?category_id=abc", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid category id, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/items/999", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown item, got %d", rec.Code)
	}
}

func TestItems_AdminOnlyWrites(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "cashier123").AccessToken
	admin := login(t, handler, "admin", "admin123").AccessToken

	req := domain.ItemCreateRequest{CustomID: "HW-LVL-24", Name: "Spirit Level 24in", Category: "Hardware", StockQuantity: 6, PriceCents: 8900}
	if rec := do(t, handler, http.MethodPost, "/api/v1/items", cashier, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	rec := do(t, handler, http.MethodPost, "/api/v1/items", admin, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decodeBody[itemEnvelope](t, rec).Item

	rec = do(t, handler, http.MethodPost, "/api/v1/items", admin, domain.ItemCreateRequest{CustomID: "HW-LVL-24", StockQuantity: 4})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for upsert, got %d", rec.Code)
	}
	if restocked := decodeBody[itemEnvelope](t, rec).Item; restocked.ID != created.ID || restocked.StockQuantity != 10 {
		t.Fatalf("expected upsert to add stock, got %+v", restocked)
	}

	path := fmt.Sprintf("/api/v1/items/%d/stock?quantity=-11", created.ID)
	if rec := do(t, handler, http.MethodPatch, path, admin, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for overdraw, got %d", rec.Code)
	}
	path = fmt.Sprintf("/api/v1/items/%d/stock?quantity=-4", created.ID)
	rec = do(t, handler, http.MethodPatch, path, admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for stock adjustment, got %d", rec.Code)
	}
	if adjusted := decodeBody[itemEnvelope](t, rec).Item; adjusted.StockQuantity != 6 {
		t.Fatalf("expected stock 6, got %d", adjusted.StockQuantity)
	}

	price := int64(9900)
	rec = do(t, handler, http.MethodPut, fmt.Sprintf("/api/v1/items/%d", created.ID), admin, domain.ItemUpdateRequest{PriceCents: &price})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for update, got %d", rec.Code)
	}

	if rec := do(t, handler, http.MethodDelete, fmt.Sprintf("/api/v1/items/%d", created.ID), admin, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for delete, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/items/%d", created.ID), admin, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestBills_SaleAndRefundFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashierLogin := login(t, handler, "cashier", "cashier123")
	admin := login(t, handler, "admin", "admin123").AccessToken

	rec := do(t, handler, http.MethodPost, "/api/v1/bills", cashierLogin.AccessToken, domain.CreateBillRequest{
		Lines: []domain.BillLine{{ItemID: 1, Quantity: 2}, {ItemID: 2, Quantity: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	bill := decodeBody[billEnvelope](t, rec).Bill
	if bill.CashierID != cashierLogin.UserID {
		t.Fatalf("expected cashier to default to the signed-in user %d, got %d", cashierLogin.UserID, bill.CashierID)
	}
	if bill.TotalAmountCents != 2*12500+4500 || bill.TotalLines != 2 {
		t.Fatalf("unexpected bill summary: %+v", bill)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/items/1", cashierLogin.AccessToken, nil)
	if item := decodeBody[itemEnvelope](t, rec).Item; item.StockQuantity != 38 {
		t.Fatalf("expected hammer stock 38 after sale, got %d", item.StockQuantity)
	}

	refundPath := fmt.Sprintf("/api/v1/bills/%d/refund-items", bill.ID)
	if rec := do(t, handler, http.MethodPost, refundPath, cashierLogin.AccessToken, domain.RefundItemsRequest{ItemIDs: []int64{bill.Items[0].ID}}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier refund, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, refundPath, admin, domain.RefundItemsRequest{ItemIDs: []int64{bill.Items[0].ID}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for partial refund, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	partial := decodeBody[billEnvelope](t, rec).Bill
	if partial.Refunded || partial.RefundedLines != 1 || partial.TotalAmountCents != 4500 {
		t.Fatalf("unexpected partial refund state: %+v", partial)
	}

	rec = do(t, handler, http.MethodPost, refundPath, admin, domain.RefundItemsRequest{ItemIDs: []int64{bill.Items[0].ID}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for repeated line refund, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodPost, refundPath, admin, domain.RefundItemsRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty refund request, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/bills/%d/refund", bill.ID), admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for full refund, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	full := decodeBody[billEnvelope](t, rec).Bill
	if !full.Refunded || full.RefundedDate == nil || full.TotalAmountCents != 0 {
		t.Fatalf("unexpected full refund state: %+v", full)
	}
	if rec := do(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/bills/%d/refund", bill.ID), admin, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for repeated refund, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/items/1", admin, nil)
	if item := decodeBody[itemEnvelope](t, rec).Item; item.StockQuantity != 40 {
		t.Fatalf("expected hammer stock restored to 40, got %d", item.StockQuantity)
	}
}

func TestBills_ErrorStatuses(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123").AccessToken

	rec := do(t, handler, http.MethodPost, "/api/v1/bills", token, domain.CreateBillRequest{Lines: []domain.BillLine{{ItemID: 7, Quantity: 1}}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for out-of-stock item, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/bills/from-cart", token, domain.CartRequest{Items: []domain.CartLine{{ID: 999, Quantity: 1, PriceCents: 100}}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown cart item, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/bills/from-cart", token, domain.CartRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills", strings.NewReader(`{"lines":[],"unknown":true}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown fields, got %d", res.Code)
	}

	if rec := do(t, handler, http.MethodGet, "/api/v1/bills/999", token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown bill, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodGet, "/api/v1/bills/abc", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid bill id, got %d", rec.Code)
	}
}

func TestBills_ListFilters(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "cashier123")
	admin := login(t, handler, "admin", "admin123")

	for _, token := range []string{cashier.AccessToken, admin.AccessToken} {
		rec := do(t, handler, http.MethodPost, "/api/v1/bills/from-cart", token, domain.CartRequest{
			Items:    []domain.CartLine{{ID: 10, Quantity: 1, PriceCents: 3000}},
			Customer: &domain.Customer{Name: "Budi"},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create bill: %d %s", rec.Code, rec.Body.String())
		}
	}

	type billsEnvelope struct {
		Bills []domain.BillSummary `json:"bills"`
	}

	rec := do(t, handler, http.MethodGet, "/api/v1/bills", admin.AccessToken, nil)
	if all := decodeBody[billsEnvelope](t, rec); len(all.Bills) != 2 {
		t.Fatalf("expected 2 bills, got %d", len(all.Bills))
	}

	rec = do(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/bills?cashier_id=%d", cashier.UserID), admin.AccessToken, nil)
	mine := decodeBody[billsEnvelope](t, rec)
	if len(mine.Bills) != 1 || mine.Bills[0].CashierID != cashier.UserID {
		t.Fatalf("expected one bill for the cashier, got %+v", mine.Bills)
	}
	if mine.Bills[0].Customer == nil || mine.Bills[0].Customer.Name != "Budi" {
		t.Fatalf("expected customer snapshot on bill, got %+v", mine.Bills[0].Customer)
	}

	today := time.Now().UTC().Format(dateLayout)
	path := fmt.Sprintf("/api/v1/bills?start_date=%s&end_date=%s&cashier_id=%d", today, today, admin.UserID)
	rec = do(t, handler, http.MethodGet, path, admin.AccessToken, nil)
	if ranged := decodeBody[billsEnvelope](t, rec); len(ranged.Bills) != 1 || ranged.Bills[0].CashierID != admin.UserID {
		t.Fatalf("expected one admin bill today, got %+v", ranged.Bills)
	}

	if rec := do(t, handler, http.MethodGet, "/api/v1/bills?start_date="+today, admin.AccessToken, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for half a date range, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodGet, "/api/v1/bills?start_date=2026-03-02&end_date=2026-03-01", admin.AccessToken, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for reversed range, got %d", rec.Code)
	}
}

func TestCashiersEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123").AccessToken

	rec := do(t, handler, http.MethodPost, "/api/v1/users/cashiers", admin, domain.CashierCreateRequest{Username: "kasir2", Password: "secret12"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := do(t, handler, http.MethodPost, "/api/v1/users/cashiers", admin, domain.CashierCreateRequest{Username: "kasir2", Password: "secret12"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate cashier, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/users/cashiers", admin, nil)
	body := decodeBody[map[string][]domain.CashierUser](t, rec)
	if len(body["cashiers"]) != 2 {
		t.Fatalf("expected 2 cashiers, got %+v", body["cashiers"])
	}

	newLogin := login(t, handler, "kasir2", "secret12")
	rec = do(t, handler, http.MethodPost, "/api/v1/bills", newLogin.AccessToken, domain.CreateBillRequest{Lines: []domain.BillLine{{ItemID: 3, Quantity: 1}}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("new cashier should be able to sell, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123").AccessToken
	if rec := do(t, handler, http.MethodPost, "/api/v1/bills", token, domain.CreateBillRequest{Lines: []domain.BillLine{{ItemID: 1, Quantity: 1}}}); rec.Code != http.StatusCreated {
		t.Fatalf("create bill: %d", rec.Code)
	}

	rec := do(t, handler, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := rec.Body.String()
	if !strings.Contains(out, `hardwarepos_bills_created_total{source="direct"} 1`) {
		t.Fatalf("expected bill counter in metrics output")
	}
	if !strings.Contains(out, `route="POST /api/v1/bills"`) {
		t.Fatalf("expected route label in http metrics")
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes.
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
