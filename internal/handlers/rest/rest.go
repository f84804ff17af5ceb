// Package rest exposes the auction engine over HTTP.
package rest

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/handlers"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
	"github.com/gorilla/mux"
)

// HealthChecker reports store health, as database.Service does.
type HealthChecker interface {
	Health() map[string]string
}

type Handler struct {
	engine  handlers.Engine
	bidders handlers.Bidders
	health  HealthChecker
}

func NewHandler(engine handlers.Engine, bidders handlers.Bidders, health HealthChecker) *Handler {
	return &Handler{engine: engine, bidders: bidders, health: health}
}

type bidRequest struct {
	MaxBid int64 `json:"max_bid"`
}

type rejectRequest struct {
	BidderID string `json:"bidder_id"`
}

type buyNowResponse struct {
	Order   types.Order       `json:"order"`
	Auction types.AuctionView `json:"auction"`
}

// Register mounts the API routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	r.HandleFunc("/api/auctions/{id}", h.getAuction).Methods(http.MethodGet)
	r.HandleFunc("/api/auctions/{id}/bids", h.requireUser(h.submitBid)).Methods(http.MethodPost)
	r.HandleFunc("/api/auctions/{id}/buy-now", h.requireUser(h.buyNow)).Methods(http.MethodPost)
	r.HandleFunc("/api/auctions/{id}/rejections", h.requireUser(h.rejectBidder)).Methods(http.MethodPost)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	stats := h.health.Health()
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, stats)
}

func (h *Handler) getAuction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.engine.Auction(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handlers.Present(ctx, h.bidders, view))
}

func (h *Handler) submitBid(w http.ResponseWriter, r *http.Request, userID string) {
	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.ErrBadMessageFormat, "invalid json"))
		return
	}
	ctx := r.Context()
	view, err := h.engine.SubmitMaxBid(ctx, mux.Vars(r)["id"], userID, req.MaxBid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handlers.Present(ctx, h.bidders, view))
}

func (h *Handler) buyNow(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()
	order, view, err := h.engine.BuyNow(ctx, mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buyNowResponse{Order: order, Auction: handlers.Present(ctx, h.bidders, view)})
}

func (h *Handler) rejectBidder(w http.ResponseWriter, r *http.Request, userID string) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BidderID == "" {
		writeError(w, errors.New(errors.ErrBadMessageFormat, "bidder_id required"))
		return
	}
	ctx := r.Context()
	view, err := h.engine.RejectBidder(ctx, mux.Vars(r)["id"], userID, req.BidderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handlers.Present(ctx, h.bidders, view))
}

func (h *Handler) requireUser(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := handlers.UserID(r)
		if userID == "" {
			writeError(w, errors.New(errors.ErrInvalidToken, "missing "+handlers.UserHeader+" header"))
			return
		}
		next(w, r, userID)
	}
}

// StatusFor maps an AppError code to its HTTP status.
func StatusFor(code int) int {
	switch code {
	case errors.ErrAuctionNotFound, errors.ErrBidderNotFound:
		return http.StatusNotFound
	case errors.ErrAuctionClosed, errors.ErrTiedBidMustBeHigher, errors.ErrMustExceedOwnCurrentMax:
		return http.StatusConflict
	case errors.ErrSelfBidForbidden, errors.ErrBidderRejected, errors.ErrUnverifiedBidder,
		errors.ErrRatingTooLow, errors.ErrNewBiddersDisallowed, errors.ErrNotSeller:
		return http.StatusForbidden
	case errors.ErrBidTooLow, errors.ErrUseBuyNowInstead, errors.ErrBuyNowUnavailable, errors.ErrInvalidAmount:
		return http.StatusUnprocessableEntity
	case errors.ErrBadMessageFormat:
		return http.StatusBadRequest
	case errors.ErrInvalidToken:
		return http.StatusUnauthorized
	case errors.ErrTryAgain:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Error writing response", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	appErr := errors.Cause(err)
	if appErr == nil || appErr.Code == 0 {
		appErr = errors.New(errors.ErrInternalServer, "Internal server error")
	}
	status := StatusFor(appErr.Code)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "code", appErr.Code, "err", err)
		appErr = errors.New(appErr.Code, "Internal server error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(appErr.ToJSON()))
}

// CORS lets browsers on other origins call the API. It wraps the whole
// router so preflight requests never reach route matching.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+handlers.UserHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
