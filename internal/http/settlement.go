package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type registerVendorRequest struct {
	CommissionOverridePct *decimal.Decimal `json:"commissionOverridePct,omitempty"`
	MinFeeOverrideCents   *int64           `json:"minFeeOverrideCents,omitempty"`
	ApprovedAt            *time.Time       `json:"approvedAt,omitempty"`
	CompletedOrders       int              `json:"completedOrders"`
}

type orderLineRequest struct {
	OrderVendorID string `json:"orderVendorId"`
	VendorID      string `json:"vendorId"`
	AmountCents   int64  `json:"amountCents"`
}

type finalizeOrderRequest struct {
	OrderID    string             `json:"orderId"`
	PaymentRef string             `json:"paymentRef"`
	Lines      []orderLineRequest `json:"lines"`
}

type vendorSettlementResponse struct {
	OrderVendorID string `json:"orderVendorId"`
	VendorID      string `json:"vendorId"`
	GrossCents    int64  `json:"grossCents"`
	FeeCents      int64  `json:"feeCents"`
	Held          bool   `json:"held"`
	EligibleAt    string `json:"eligibleAt,omitempty"`
}

type finalizeOrderResponse struct {
	Vendors  []vendorSettlementResponse `json:"vendors"`
	Inserted int                        `json:"inserted"`
}

type refundRequest struct {
	OrderVendorID string `json:"orderVendorId"`
	RefundRef     string `json:"refundRef"`
	AmountCents   int64  `json:"amountCents"`
	Reason        string `json:"reason"`
}

type ledgerEntryResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	AmountCents int64  `json:"amountCents"`
	ExternalRef string `json:"externalRef"`
	Notes       string `json:"notes,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

type payoutResponse struct {
	PayoutCents int64  `json:"payoutCents"`
	Held        bool   `json:"held"`
	EligibleAt  string `json:"eligibleAt,omitempty"`
}

type orderVendorResponse struct {
	OrderVendorID string                `json:"orderVendorId"`
	VendorID      string                `json:"vendorId,omitempty"`
	Entries       []ledgerEntryResponse `json:"entries"`
	Payout        *payoutResponse       `json:"payout,omitempty"`
	Error         string                `json:"error,omitempty"`
}

func (h *Handler) RegisterVendor(w http.ResponseWriter, r *http.Request) {
	var req registerVendorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	v := &models.Vendor{
		ID:                    chi.URLParam(r, "vendorId"),
		CommissionOverridePct: req.CommissionOverridePct,
		MinFeeOverrideCents:   req.MinFeeOverrideCents,
		CompletedOrders:       req.CompletedOrders,
	}
	if req.ApprovedAt != nil {
		v.ApprovedAt = req.ApprovedAt.UTC()
	}
	if err := h.Settlement.RegisterVendor(r.Context(), v); err != nil {
		h.writeServiceError(w, err, "register vendor failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) FinalizeOrder(w http.ResponseWriter, r *http.Request) {
	var req finalizeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	in := services.OrderFinalization{OrderID: req.OrderID, PaymentRef: req.PaymentRef}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, services.OrderLine{OrderVendorID: l.OrderVendorID, VendorID: l.VendorID, AmountCents: l.AmountCents})
	}

	res, err := h.Settlement.FinalizeOrder(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err, "finalize order failed")
		return
	}
	resp := finalizeOrderResponse{Inserted: res.Inserted, Vendors: make([]vendorSettlementResponse, 0, len(res.Vendors))}
	for _, vs := range res.Vendors {
		out := vendorSettlementResponse{
			OrderVendorID: vs.OrderVendorID,
			VendorID:      vs.VendorID,
			GrossCents:    vs.GrossCents,
			FeeCents:      vs.FeeCents,
			Held:          vs.Held,
		}
		if vs.EligibleAt != nil {
			out.EligibleAt = vs.EligibleAt.Format(time.RFC3339)
		}
		resp.Vendors = append(resp.Vendors, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) RecordRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	err := h.Settlement.RecordRefund(r.Context(), services.Refund{
		OrderVendorID: req.OrderVendorID,
		RefundRef:     req.RefundRef,
		AmountCents:   req.AmountCents,
		Reason:        req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, err, "record refund failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetOrderVendor returns the pair's ledger and, when consistent, its payout.
// An inconsistent ledger still lists its entries alongside the error.
func (h *Handler) GetOrderVendor(w http.ResponseWriter, r *http.Request) {
	ovID := chi.URLParam(r, "orderVendorId")
	entries, err := h.Settlement.ListEntries(r.Context(), ovID)
	if err != nil {
		h.writeServiceError(w, err, "list ledger failed")
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "order vendor not found")
		return
	}

	resp := orderVendorResponse{OrderVendorID: ovID, Entries: make([]ledgerEntryResponse, 0, len(entries))}
	for _, e := range entries {
		if resp.VendorID == "" {
			resp.VendorID = e.VendorID
		}
		resp.Entries = append(resp.Entries, ledgerEntryResponse{
			ID:          e.ID,
			Type:        string(e.Type),
			AmountCents: e.AmountCents,
			ExternalRef: e.ExternalRef,
			Notes:       e.Notes,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	payout, err := h.Settlement.ComputePayout(r.Context(), ovID, r.URL.Query().Get("vendorId"))
	switch {
	case errors.Is(err, services.ErrSettlementInconsistency):
		resp.Error = err.Error()
		writeJSON(w, http.StatusConflict, resp)
		return
	case err != nil:
		h.writeServiceError(w, err, "compute payout failed")
		return
	}
	resp.Payout = &payoutResponse{PayoutCents: payout.PayoutCents, Held: payout.Held}
	if payout.EligibleAt != nil {
		resp.Payout.EligibleAt = payout.EligibleAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
