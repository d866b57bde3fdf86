// Package position provides the HTTP handlers for swap submission and for
// listing, opening, closing and deleting positions.
//
// All monetary values use shopspring/decimal, never float64 for money.
package position

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/metrics"
	"github.com/0xd3bs/buysmart/internal/model"
	"github.com/0xd3bs/buysmart/internal/pnl"
	"github.com/0xd3bs/buysmart/internal/price"
	"github.com/0xd3bs/buysmart/internal/pricefeed"
	"github.com/0xd3bs/buysmart/internal/reconcile"
	"github.com/0xd3bs/buysmart/internal/store"
)

const originManual = "manual"

// Submitter accepts swap completion events for background reconciliation.
type Submitter interface {
	Submit(ctx context.Context, swap model.SwapResult, pair model.TokenPair, cb reconcile.Callbacks) error
}

// Service handles position operations. Reconciled changes arrive through the
// queue; manual changes go straight to the store.
type Service struct {
	store    store.PositionStore
	resolver *price.Resolver
	feed     pricefeed.Feed // optional; nil disables spot lookups
	queue    Submitter
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new position service.
// Pass nil for feed or hub if spot prices or WebSocket broadcasting are not needed.
func NewService(st store.PositionStore, resolver *price.Resolver, feed pricefeed.Feed, queue Submitter, hub *WSHub) *Service {
	return &Service{
		store:    st,
		resolver: resolver,
		feed:     feed,
		queue:    queue,
		wsHub:    hub,
	}
}

// Routes mounts the handlers on r (normally the /api/v1 sub-router).
func (s *Service) Routes(r chi.Router) {
	r.Post("/swaps", s.SubmitSwap)
	r.Get("/price", s.GetPrice)
	r.Route("/positions", func(r chi.Router) {
		r.Get("/", s.ListPositions)
		r.Post("/", s.OpenPosition)
		r.Get("/summary", s.Summary)
		r.Get("/{positionID}", s.GetPosition)
		r.Post("/{positionID}/close", s.ClosePosition)
		r.Delete("/{positionID}", s.DeletePosition)
	})
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request/Response types ---

// SwapRequest is the JSON body for POST /swaps. The pair is given either as
// "pair" ("USDC->ETH") or as from_symbol/to_symbol.
type SwapRequest struct {
	model.SwapResult
	Pair       string `json:"pair,omitempty"`
	FromSymbol string `json:"from_symbol,omitempty"`
	ToSymbol   string `json:"to_symbol,omitempty"`
}

// SwapResponse is always returned with 202: the swap itself already
// succeeded, so tracking outcomes never surface as HTTP errors.
type SwapResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"` // "queued" or "dropped"
	Reason    string `json:"reason,omitempty"`
}

// OpenRequest is the JSON body for POST /positions. An explicit price_usd is
// used as given; without it the price comes from from_amount/to_amount, then
// the spot feed.
type OpenRequest struct {
	Side       string              `json:"side"`
	PriceUSD   decimal.NullDecimal `json:"price_usd"`
	FromAmount string              `json:"from_amount,omitempty"`
	ToAmount   string              `json:"to_amount,omitempty"`
	OpenedAt   *time.Time          `json:"opened_at,omitempty"`
	Amount     decimal.NullDecimal `json:"amount"`
}

// CloseRequest is the JSON body for POST /positions/{id}/close. Without
// close_price_usd the spot feed is used.
type CloseRequest struct {
	ClosePriceUSD decimal.NullDecimal `json:"close_price_usd"`
	ClosedAt      *time.Time          `json:"closed_at,omitempty"`
}

// SummaryResponse aggregates the position book.
type SummaryResponse struct {
	Total         int                 `json:"total"`
	Open          int                 `json:"open"`
	Closed        int                 `json:"closed"`
	RealizedPnL   decimal.Decimal     `json:"realized_pnl"`
	UnrealizedPnL decimal.NullDecimal `json:"unrealized_pnl"`
	SpotPrice     *pricefeed.Quote    `json:"spot_price,omitempty"`
}

// --- HTTP Handlers ---

// SubmitSwap handles POST /api/v1/swaps
func (s *Service) SubmitSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pair := model.TokenPair{FromSymbol: req.FromSymbol, ToSymbol: req.ToSymbol}
	if req.Pair != "" {
		parsed, err := price.ParsePair(req.Pair)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		pair = parsed
	}

	requestID := uuid.New().String()
	cb := reconcile.Callbacks{
		OnSuccess: func(a model.Action) {
			s.wsHub.Broadcast(messageFor(requestID, a))
		},
		OnError: func(err error) {
			s.wsHub.Broadcast(WSMessage{Type: MsgReconcileFailed, RequestID: requestID, Error: err.Error()})
		},
	}

	resp := SwapResponse{RequestID: requestID, Status: "queued"}
	if err := s.queue.Submit(r.Context(), req.SwapResult, pair, cb); err != nil {
		resp.Status = "dropped"
		resp.Reason = dropReason(err)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// ListPositions handles GET /api/v1/positions?status=open|closed
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	var want model.Status
	switch strings.ToLower(r.URL.Query().Get("status")) {
	case "":
	case "open":
		want = model.StatusOpen
	case "closed":
		want = model.StatusClosed
	default:
		writeError(w, "status must be open or closed", http.StatusBadRequest)
		return
	}

	all, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}

	out := make([]model.Position, 0, len(all))
	for _, p := range all {
		if want == "" || p.Status == want {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPosition handles GET /api/v1/positions/{positionID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.store.Get(r.Context(), chi.URLParam(r, "positionID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// OpenPosition handles POST /api/v1/positions
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PriceUSD.Valid && !req.PriceUSD.Decimal.IsPositive() {
		writeError(w, "price_usd must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	swap := model.SwapResult{FromAmount: req.FromAmount, ToAmount: req.ToAmount}
	unitPrice := req.PriceUSD.Decimal
	if !req.PriceUSD.Valid {
		unitPrice, err = s.resolver.ResolveLoose(ctx, swap, side)
		if err != nil {
			writePriceError(w, err)
			return
		}
	}

	params := store.OpenParams{Side: side, PriceUSD: unitPrice, Amount: req.Amount}
	if req.OpenedAt != nil {
		params.OpenedAt = *req.OpenedAt
	}
	if !params.Amount.Valid {
		params.Amount = price.VolatileAmount(swap, side)
	}

	pos, err := s.store.Open(ctx, params)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	metrics.PositionsOpened.WithLabelValues(string(side), originManual).Inc()

	slog.Info("position opened",
		"id", pos.ID,
		"side", string(side),
		"price_usd", unitPrice.String(),
		"origin", originManual,
	)
	s.wsHub.Broadcast(WSMessage{
		Type:       MsgPositionOpened,
		PositionID: pos.ID,
		Side:       pos.Side,
		Price:      pos.PriceUSD.String(),
		At:         &pos.OpenedAt,
		Position:   &pos,
	})
	writeJSON(w, http.StatusCreated, pos)
}

// ClosePosition handles POST /api/v1/positions/{positionID}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "positionID")
	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ClosePriceUSD.Valid && !req.ClosePriceUSD.Decimal.IsPositive() {
		writeError(w, "close_price_usd must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	current, err := s.store.Get(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !current.IsOpen() {
		writeError(w, "position already closed", http.StatusConflict)
		return
	}

	closePrice := req.ClosePriceUSD.Decimal
	if !req.ClosePriceUSD.Valid {
		closePrice, err = s.resolver.ResolveLoose(ctx, model.SwapResult{}, current.Side.Opposite())
		if err != nil {
			writePriceError(w, err)
			return
		}
	}

	closedAt := time.Now().UTC()
	if req.ClosedAt != nil {
		closedAt = *req.ClosedAt
	}
	pos, err := s.store.Close(ctx, id, closedAt, closePrice)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	metrics.PositionsClosed.WithLabelValues(string(pos.Side), originManual).Inc()

	if pos.ClosedBeforeOpened() {
		slog.Warn("position closed before it was opened", "id", pos.ID)
	}
	slog.Info("position closed",
		"id", pos.ID,
		"side", string(pos.Side),
		"close_price_usd", closePrice.String(),
		"profit_loss", pos.ProfitLoss.Decimal.String(),
		"origin", originManual,
	)
	s.wsHub.Broadcast(WSMessage{
		Type:       MsgPositionClosed,
		PositionID: pos.ID,
		Side:       pos.Side,
		Price:      closePrice.String(),
		At:         pos.ClosedAt,
		Position:   &pos,
	})
	writeJSON(w, http.StatusOK, pos)
}

// DeletePosition handles DELETE /api/v1/positions/{positionID}
func (s *Service) DeletePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "positionID")
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("position deleted", "id", id)
	s.wsHub.Broadcast(WSMessage{Type: MsgPositionDeleted, PositionID: id})
	w.WriteHeader(http.StatusNoContent)
}

// Summary handles GET /api/v1/positions/summary
// Unrealized P&L is marked against the spot feed and omitted when the feed
// is unavailable.
func (s *Service) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := s.store.List(ctx)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	resp := SummaryResponse{Total: len(all), RealizedPnL: decimal.Zero}
	var open []model.Position
	for _, p := range all {
		if res, ok := pnl.Realized(p); ok {
			resp.Closed++
			resp.RealizedPnL = resp.RealizedPnL.Add(res.Absolute)
			continue
		}
		resp.Open++
		open = append(open, p)
	}

	if s.feed != nil && len(open) > 0 {
		quote, err := s.feed.SpotPrice(ctx)
		if err != nil {
			slog.Warn("spot price unavailable for summary", "err", err)
		} else {
			unrealized := decimal.Zero
			for _, p := range open {
				unrealized = unrealized.Add(pnl.Unrealized(p, quote.Price).Absolute)
			}
			resp.UnrealizedPnL = decimal.NewNullDecimal(unrealized)
			resp.SpotPrice = &quote
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPrice handles GET /api/v1/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, "price feed not configured", http.StatusServiceUnavailable)
		return
	}
	quote, err := s.feed.SpotPrice(r.Context())
	if err != nil {
		slog.Warn("spot price request failed", "provider", s.feed.Name(), "err", err)
		writeError(w, "price feed unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// dropReason names why Submit refused a swap.
func dropReason(err error) string {
	switch {
	case errors.Is(err, reconcile.ErrInFlight):
		return "in_flight"
	case errors.Is(err, reconcile.ErrDuplicateSwap):
		return "duplicate"
	case errors.Is(err, reconcile.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, reconcile.ErrQueueClosed):
		return "shutting_down"
	}
	return err.Error()
}

func writePriceError(w http.ResponseWriter, err error) {
	if errors.Is(err, pricefeed.ErrPriceFeed) {
		writeError(w, "price feed unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeError(w, "price unavailable: provide a positive price", http.StatusUnprocessableEntity)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrPositionNotFound):
		writeError(w, "position not found", http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadyClosed):
		writeError(w, "position already closed", http.StatusConflict)
	case errors.Is(err, store.ErrInvalidPosition):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("store operation failed", "err", err)
		writeError(w, "storage failure", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
