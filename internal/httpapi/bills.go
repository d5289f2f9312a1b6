package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/service"
)

const dateLayout = "2006-01-02"

func summaries(bills []domain.Bill) []domain.BillSummary {
	out := make([]domain.BillSummary, 0, len(bills))
	for _, bill := range bills {
		out = append(out, bill.Summary())
	}
	return out
}

// handleListBills filters by ?cashier_id= and by the inclusive day range
// ?start_date=&end_date= (YYYY-MM-DD, UTC). Both filters may be combined.
func (a *API) handleListBills(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rawCashier := strings.TrimSpace(query.Get("cashier_id"))
	rawStart := strings.TrimSpace(query.Get("start_date"))
	rawEnd := strings.TrimSpace(query.Get("end_date"))

	var cashierID int64
	if rawCashier != "" {
		parsed, err := strconv.ParseInt(rawCashier, 10, 64)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, errors.New("invalid cashier_id"))
			return
		}
		cashierID = parsed
	}
	if (rawStart == "") != (rawEnd == "") {
		writeError(w, http.StatusBadRequest, errors.New("start_date and end_date must be given together"))
		return
	}

	var (
		bills []domain.Bill
		err   error
	)
	switch {
	case rawStart != "":
		start, startErr := time.Parse(dateLayout, rawStart)
		end, endErr := time.Parse(dateLayout, rawEnd)
		if startErr != nil || endErr != nil {
			writeError(w, http.StatusBadRequest, errors.New("dates must use YYYY-MM-DD"))
			return
		}
		bills, err = a.service.BillsByDateRange(r.Context(), start, end)
		if err == nil && cashierID != 0 {
			bills = byCashier(bills, cashierID)
		}
	case cashierID != 0:
		bills, err = a.service.BillsByCashier(r.Context(), cashierID)
	default:
		bills, err = a.service.ListBills(r.Context())
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bills": summaries(bills)})
}

func byCashier(bills []domain.Bill, cashierID int64) []domain.Bill {
	kept := bills[:0]
	for _, bill := range bills {
		if bill.CashierID == cashierID {
			kept = append(kept, bill)
		}
	}
	return kept
}

// cashierFor defaults a missing cashier id to the signed-in user.
func cashierFor(r *http.Request, requested int64) int64 {
	if requested != 0 {
		return requested
	}
	if actor, ok := service.ActorFromContext(r.Context()); ok {
		return actor.UserID
	}
	return 0
}

func (a *API) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBillRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.CashierID = cashierFor(r, req.CashierID)

	bill, err := a.service.CreateBill(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bill": bill.Summary()})
}

func (a *API) handleCreateBillFromCart(w http.ResponseWriter, r *http.Request) {
	var req domain.CartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.CashierID = cashierFor(r, req.CashierID)

	bill, err := a.service.CreateBillFromCart(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bill": bill.Summary()})
}

func (a *API) handleGetBill(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bill, err := a.service.GetBill(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill.Summary()})
}

func (a *API) handleRefundBill(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bill, err := a.service.RefundBill(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill.Summary()})
}

func (a *API) handleRefundItems(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.RefundItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bill, err := a.service.RefundBillItems(r.Context(), id, req.ItemIDs)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill.Summary()})
}
