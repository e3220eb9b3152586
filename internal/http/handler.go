package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/realtime"
	"AuctionCore/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Handler struct {
	Auctions   *services.AuctionService
	Bids       *services.BidService
	Settlement *services.SettlementService
	Hub        *realtime.Hub
	AdminKey   string
	Log        zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type createAuctionRequest struct {
	ListingID       string     `json:"listingId"`
	Title           string     `json:"title"`
	StartAt         *time.Time `json:"startAt,omitempty"`
	EndAt           time.Time  `json:"endAt"`
	StartPriceCents int64      `json:"startPriceCents"`
	BuyNowCents     *int64     `json:"buyNowCents,omitempty"`
}

type auctionResponse struct {
	ID                string  `json:"id"`
	ListingID         string  `json:"listingId"`
	VendorID          string  `json:"vendorId"`
	Title             string  `json:"title"`
	Status            string  `json:"status"`
	StartAt           string  `json:"startAt"`
	EndAt             string  `json:"endAt"`
	MsRemaining       int64   `json:"msRemaining"`
	StartPriceCents   int64   `json:"startPriceCents"`
	BuyNowCents       *int64  `json:"buyNowCents,omitempty"`
	CurrentPriceCents int64   `json:"currentPriceCents"`
	LeadingBidderID   *string `json:"leadingBidderId,omitempty"`
	EndedAt           string  `json:"endedAt,omitempty"`
	EndReason         string  `json:"endReason,omitempty"`
}

type placeBidRequest struct {
	MaxProxyCents      int64  `json:"maxProxyCents"`
	ExpectedPriceCents *int64 `json:"expectedPriceCents,omitempty"`
}

type bidResponse struct {
	AuctionID         string `json:"auctionId"`
	BidID             string `json:"bidId,omitempty"`
	CurrentPriceCents int64  `json:"currentPriceCents"`
	LeadingBidderID   string `json:"leadingBidderId"`
	CallerStatus      string `json:"callerStatus"`
	Ended             bool   `json:"ended"`
	EndReason         string `json:"endReason,omitempty"`
}

type publicBid struct {
	BidID             string `json:"bidId"`
	BidderID          string `json:"bidderId"`
	EffectiveBidCents int64  `json:"effectiveBidCents"`
	CreatedAt         string `json:"createdAt"`
}

type endAuctionRequest struct {
	Reason string `json:"reason"`
}

type transitionResponse struct {
	Auction auctionResponse `json:"auction"`
	Changed bool            `json:"changed"`
}

func NewHandler(auctions *services.AuctionService, bids *services.BidService, settlement *services.SettlementService, hub *realtime.Hub) *Handler {
	return &Handler{Auctions: auctions, Bids: bids, Settlement: settlement, Hub: hub}
}

func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	in := services.CreateAuctionRequest{
		ListingID:       req.ListingID,
		VendorID:        r.Header.Get("X-Vendor-Id"),
		Title:           req.Title,
		EndAt:           req.EndAt,
		StartPriceCents: req.StartPriceCents,
		BuyNowCents:     req.BuyNowCents,
	}
	if req.StartAt != nil {
		in.StartAt = *req.StartAt
	}
	a, err := h.Auctions.Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err, "create auction failed")
		return
	}
	writeJSON(w, http.StatusCreated, h.toAuction(a))
}

func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.Auctions.Get(r.Context(), chi.URLParam(r, "auctionId"))
	if err != nil {
		h.writeServiceError(w, err, "get auction failed")
		return
	}
	writeJSON(w, http.StatusOK, h.toAuction(a))
}

func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.Auctions.ListBids(r.Context(), chi.URLParam(r, "auctionId"))
	if err != nil {
		h.writeServiceError(w, err, "list bids failed")
		return
	}
	out := make([]publicBid, 0, len(bids))
	for _, b := range bids {
		out = append(out, publicBid{
			BidID:             b.ID,
			BidderID:          b.BidderUserID,
			EffectiveBidCents: b.EffectiveBidCents,
			CreatedAt:         b.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	res, err := h.Bids.PlaceBid(r.Context(), services.PlaceBidRequest{
		AuctionID:          chi.URLParam(r, "auctionId"),
		BidderID:           r.Header.Get("X-User-Id"),
		MaxProxyCents:      req.MaxProxyCents,
		ExpectedPriceCents: req.ExpectedPriceCents,
	})
	if err != nil {
		h.writeServiceError(w, err, "place bid failed")
		return
	}
	writeJSON(w, http.StatusOK, toBid(res))
}

func (h *Handler) BuyNow(w http.ResponseWriter, r *http.Request) {
	res, err := h.Bids.BuyNow(r.Context(), chi.URLParam(r, "auctionId"), r.Header.Get("X-User-Id"))
	if err != nil {
		h.writeServiceError(w, err, "buy now failed")
		return
	}
	writeJSON(w, http.StatusOK, toBid(res))
}

func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	if err := h.Auctions.Watch(r.Context(), chi.URLParam(r, "auctionId"), r.Header.Get("X-User-Id")); err != nil {
		h.writeServiceError(w, err, "watch failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Unwatch(w http.ResponseWriter, r *http.Request) {
	if err := h.Auctions.Unwatch(r.Context(), chi.URLParam(r, "auctionId"), r.Header.Get("X-User-Id")); err != nil {
		h.writeServiceError(w, err, "unwatch failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListWatchers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Auctions.Watchers(r.Context(), chi.URLParam(r, "auctionId"))
	if err != nil {
		h.writeServiceError(w, err, "list watchers failed")
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"userIds": users})
}

func (h *Handler) EndAuction(w http.ResponseWriter, r *http.Request) {
	var req endAuctionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	reason := models.EndAdmin
	if req.Reason != "" {
		reason = models.EndReason(req.Reason)
	}
	if reason != models.EndAdmin && reason != models.EndNatural {
		writeError(w, http.StatusBadRequest, "reason must be admin_end or natural_end")
		return
	}
	res, err := h.Auctions.End(r.Context(), chi.URLParam(r, "auctionId"), reason)
	if err != nil {
		h.writeServiceError(w, err, "end auction failed")
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Auction: h.toAuction(res.Auction), Changed: res.Changed})
}

func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	res, err := h.Auctions.Cancel(r.Context(), chi.URLParam(r, "auctionId"))
	if err != nil {
		h.writeServiceError(w, err, "cancel auction failed")
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Auction: h.toAuction(res.Auction), Changed: res.Changed})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var priceChanged *services.PriceChangedError
	switch {
	case errors.As(err, &priceChanged):
		price := priceChanged.CurrentPriceCents
		writeJSON(w, http.StatusConflict, errorResponse{Error: "price changed", Retryable: true, CurrentPriceCents: &price})
	case errors.Is(err, services.ErrConcurrentBidConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "concurrent bid conflict", Retryable: true})
	case errors.Is(err, services.ErrAuctionNotFound):
		writeError(w, http.StatusNotFound, "auction not found")
	case errors.Is(err, services.ErrVendorNotFound):
		writeError(w, http.StatusNotFound, "vendor not found")
	case errors.Is(err, services.ErrMissingUserID):
		writeError(w, http.StatusUnauthorized, "missing user id")
	case errors.Is(err, services.ErrMissingVendorID):
		writeError(w, http.StatusUnauthorized, "missing vendor id")
	case errors.Is(err, services.ErrVendorCannotBid):
		writeError(w, http.StatusForbidden, "vendors cannot bid on their own auctions")
	case errors.Is(err, services.ErrAuctionNotLive):
		writeError(w, http.StatusConflict, "auction not live")
	case errors.Is(err, services.ErrBidTooLow):
		writeError(w, http.StatusUnprocessableEntity, "bid too low")
	case errors.Is(err, services.ErrSelfAlreadyLeading):
		writeError(w, http.StatusConflict, "already leading")
	case errors.Is(err, services.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many bids", Retryable: true})
	case errors.Is(err, services.ErrAuctionLockActive):
		writeError(w, http.StatusConflict, "listing has an active auction or is cooling down")
	case errors.Is(err, services.ErrCannotCancelWithBids):
		writeError(w, http.StatusConflict, "auction has bids")
	case errors.Is(err, services.ErrBuyNowUnavailable):
		writeError(w, http.StatusConflict, "buy now unavailable")
	case errors.Is(err, services.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrSettlementInconsistency):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidSchedule),
		errors.Is(err, services.ErrInvalidBuyNow),
		errors.Is(err, services.ErrMissingListingID),
		errors.Is(err, services.ErrMissingReference):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Log.Error().Err(err).Msg(fallback)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *Handler) toAuction(a *models.Auction) auctionResponse {
	resp := auctionResponse{
		ID:                a.ID,
		ListingID:         a.ListingID,
		VendorID:          a.VendorID,
		Title:             a.Title,
		Status:            string(a.Status),
		StartAt:           a.StartAt.Format(time.RFC3339Nano),
		EndAt:             a.EndAt.Format(time.RFC3339Nano),
		MsRemaining:       services.Remaining(a, h.now()).Milliseconds(),
		StartPriceCents:   a.StartPriceCents,
		BuyNowCents:       a.BuyNowCents,
		CurrentPriceCents: a.CurrentPriceCents,
		LeadingBidderID:   a.LeadingBidderID,
	}
	if a.EndedAt != nil {
		resp.EndedAt = a.EndedAt.Format(time.RFC3339Nano)
	}
	if a.EndReason != nil {
		resp.EndReason = string(*a.EndReason)
	}
	return resp
}

func toBid(res *services.BidResult) bidResponse {
	return bidResponse{
		AuctionID:         res.AuctionID,
		BidID:             res.BidID,
		CurrentPriceCents: res.CurrentPriceCents,
		LeadingBidderID:   res.LeadingBidderID,
		CallerStatus:      res.CallerStatus,
		Ended:             res.Ended,
		EndReason:         string(res.EndReason),
	}
}
