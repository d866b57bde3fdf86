package position_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/model"
	"github.com/0xd3bs/buysmart/internal/position"
	"github.com/0xd3bs/buysmart/internal/price"
	"github.com/0xd3bs/buysmart/internal/pricefeed"
	"github.com/0xd3bs/buysmart/internal/reconcile"
	"github.com/0xd3bs/buysmart/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeFeed returns a fixed quote or a fixed error.
type fakeFeed struct {
	price decimal.Decimal
	err   error
}

func (f *fakeFeed) Name() string { return "fake" }

func (f *fakeFeed) SpotPrice(context.Context) (pricefeed.Quote, error) {
	if f.err != nil {
		return pricefeed.Quote{}, f.err
	}
	return pricefeed.Quote{Price: f.price, FetchedAt: time.Now().UTC()}, nil
}

type testEnv struct {
	ms     *store.MemoryStore
	feed   *fakeFeed
	hub    *position.WSHub
	router chi.Router
}

// newTestEnv wires a Service over an in-memory store, a running queue and hub.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ms := store.NewMemoryStore()
	feed := &fakeFeed{price: d("2500")}
	resolver := price.NewResolver(nil, feed)

	rec := reconcile.New(ms, resolver, logger)
	queue := reconcile.NewQueue(rec, reconcile.QueueConfig{Logger: logger})
	hub := position.NewWSHub()

	ctx, cancel := context.WithCancel(context.Background())
	go queue.Run(ctx)
	go hub.Run(ctx)
	t.Cleanup(cancel)

	svc := position.NewService(ms, resolver, feed, queue, hub)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	return &testEnv{ms: ms, feed: feed, hub: hub, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, side model.Side, p string, openedAt time.Time) model.Position {
	t.Helper()
	pos, err := e.ms.Open(context.Background(), store.OpenParams{Side: side, PriceUSD: d(p), OpenedAt: openedAt})
	if err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}
	return pos
}

// waitForPositions polls until the store holds n positions.
func (e *testEnv) waitForPositions(t *testing.T, n int) []model.Position {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		all, _ := e.ms.List(context.Background())
		if len(all) == n {
			return all
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store never reached %d positions", n)
	return nil
}

// --- Swap submission ---

func TestSubmitSwap_OpensBuy(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/swaps", map[string]any{
		"pair":        "USDC->ETH",
		"from_amount": "2000",
		"to_amount":   "1",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp position.SwapResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "queued" {
		t.Errorf("expected queued, got %q", resp.Status)
	}
	if resp.RequestID == "" {
		t.Error("expected non-empty request_id")
	}

	all := env.waitForPositions(t, 1)
	if all[0].Side != model.SideBuy {
		t.Errorf("expected BUY, got %s", all[0].Side)
	}
	if !all[0].PriceUSD.Equal(d("2000")) {
		t.Errorf("expected price 2000, got %s", all[0].PriceUSD)
	}
}

func TestSubmitSwap_FailureStillAccepted(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/swaps", map[string]any{
		"from_symbol": "USDC",
		"to_symbol":   "ETH",
		"from_amount": "2000",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 even when reconciliation will fail, got %d", w.Code)
	}

	time.Sleep(150 * time.Millisecond)
	all, _ := env.ms.List(context.Background())
	if len(all) != 0 {
		t.Errorf("store should be untouched, has %d positions", len(all))
	}
}

func TestSubmitSwap_InvalidPair(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/swaps", map[string]any{"pair": "not a pair"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed pair, got %d", w.Code)
	}
}

type refusingQueue struct{ err error }

func (q refusingQueue) Submit(context.Context, model.SwapResult, model.TokenPair, reconcile.Callbacks) error {
	return q.err
}

func TestSubmitSwap_DroppedReasons(t *testing.T) {
	cases := map[string]error{
		"in_flight": reconcile.ErrInFlight,
		"duplicate": reconcile.ErrDuplicateSwap,
	}
	for want, err := range cases {
		svc := position.NewService(store.NewMemoryStore(), price.NewResolver(nil, nil), nil, refusingQueue{err: err}, nil)
		r := chi.NewRouter()
		r.Route("/api/v1", svc.Routes)

		req := httptest.NewRequest("POST", "/api/v1/swaps", strings.NewReader(`{"pair":"USDC->ETH","from_amount":"1","to_amount":"1"}`))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusAccepted {
			t.Errorf("%s: expected 202, got %d", want, w.Code)
		}
		var resp position.SwapResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Status != "dropped" || resp.Reason != want {
			t.Errorf("expected dropped/%s, got %s/%s", want, resp.Status, resp.Reason)
		}
	}
}

func TestSubmitSwap_BroadcastsOutcome(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	env.do(t, "POST", "/api/v1/swaps", map[string]any{
		"pair":        "ETH->USDC",
		"from_amount": "2",
		"to_amount":   "4000",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg position.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	if msg.Type != position.MsgPositionOpened {
		t.Errorf("expected %s, got %s", position.MsgPositionOpened, msg.Type)
	}
	if msg.Side != model.SideSell {
		t.Errorf("expected SELL, got %s", msg.Side)
	}
	if msg.Price != "2000" {
		t.Errorf("expected price 2000, got %s", msg.Price)
	}
}

// --- Manual positions ---

func TestOpenPosition_ExplicitPrice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/positions", map[string]any{"side": "buy", "price_usd": "1999.99"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var pos model.Position
	json.Unmarshal(w.Body.Bytes(), &pos)
	if pos.Side != model.SideBuy || pos.Status != model.StatusOpen {
		t.Errorf("unexpected position %+v", pos)
	}
	if !pos.PriceUSD.Equal(d("1999.99")) {
		t.Errorf("expected 1999.99, got %s", pos.PriceUSD)
	}
}

func TestOpenPosition_FallsBackToFeed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/positions", map[string]any{"side": "SELL"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var pos model.Position
	json.Unmarshal(w.Body.Bytes(), &pos)
	if !pos.PriceUSD.Equal(d("2500")) {
		t.Errorf("expected feed price 2500, got %s", pos.PriceUSD)
	}
}

func TestOpenPosition_AmountsBeatFeed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/positions", map[string]any{
		"side":        "BUY",
		"from_amount": "4200",
		"to_amount":   "2",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var pos model.Position
	json.Unmarshal(w.Body.Bytes(), &pos)
	if !pos.PriceUSD.Equal(d("2100")) {
		t.Errorf("expected 2100 from amounts, got %s", pos.PriceUSD)
	}
	if !pos.Amount.Valid || !pos.Amount.Decimal.Equal(d("2")) {
		t.Errorf("expected amount 2, got %v", pos.Amount)
	}
}

func TestOpenPosition_ExplicitPriceBeatsAmounts(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/positions", map[string]any{
		"side":        "BUY",
		"price_usd":   "1999.99",
		"from_amount": "4200",
		"to_amount":   "2",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var pos model.Position
	json.Unmarshal(w.Body.Bytes(), &pos)
	if !pos.PriceUSD.Equal(d("1999.99")) {
		t.Errorf("expected requested price 1999.99, got %s", pos.PriceUSD)
	}
	if !pos.Amount.Valid || !pos.Amount.Decimal.Equal(d("2")) {
		t.Errorf("expected amount 2 from to_amount, got %v", pos.Amount)
	}
}

func TestOpenPosition_FeedDown(t *testing.T) {
	env := newTestEnv(t)
	env.feed.err = errors.Join(pricefeed.ErrPriceFeed, errors.New("timeout"))

	w := env.do(t, "POST", "/api/v1/positions", map[string]any{"side": "BUY"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 when the feed fails, got %d", w.Code)
	}
}

func TestOpenPosition_Invalid(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, "POST", "/api/v1/positions", map[string]any{"side": "HOLD", "price_usd": "1"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid side, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/positions", map[string]any{"side": "BUY", "price_usd": "-5"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative price, got %d", w.Code)
	}
}

func TestClosePosition(t *testing.T) {
	env := newTestEnv(t)
	pos := env.seed(t, model.SideSell, "2000", time.Now().Add(-time.Hour))

	w := env.do(t, "POST", "/api/v1/positions/"+pos.ID+"/close", map[string]any{"close_price_usd": "1800"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var closed model.Position
	json.Unmarshal(w.Body.Bytes(), &closed)
	if closed.Status != model.StatusClosed {
		t.Errorf("expected CLOSED, got %s", closed.Status)
	}
	if !closed.ProfitLoss.Decimal.Equal(d("200")) {
		t.Errorf("expected profit 200, got %s", closed.ProfitLoss.Decimal)
	}
	if !closed.ProfitLossPercent.Decimal.Equal(d("10")) {
		t.Errorf("expected 10%%, got %s", closed.ProfitLossPercent.Decimal)
	}

	w = env.do(t, "POST", "/api/v1/positions/"+pos.ID+"/close", map[string]any{"close_price_usd": "1700"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second close, got %d", w.Code)
	}
}

func TestClosePosition_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/positions/nope/close", map[string]any{"close_price_usd": "1"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetAndDeletePosition(t *testing.T) {
	env := newTestEnv(t)
	pos := env.seed(t, model.SideBuy, "2000", time.Now())

	if w := env.do(t, "GET", "/api/v1/positions/"+pos.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := env.do(t, "DELETE", "/api/v1/positions/"+pos.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/v1/positions/"+pos.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
	if w := env.do(t, "DELETE", "/api/v1/positions/"+pos.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204 deleting twice, got %d", w.Code)
	}
}

func TestListPositions_FilterByStatus(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	a := env.seed(t, model.SideBuy, "2000", now)
	b := env.seed(t, model.SideSell, "2100", now)
	if _, err := env.ms.Close(context.Background(), a.ID, now, d("2200")); err != nil {
		t.Fatal(err)
	}

	var all, open, closed []model.Position
	json.Unmarshal(env.do(t, "GET", "/api/v1/positions", nil).Body.Bytes(), &all)
	json.Unmarshal(env.do(t, "GET", "/api/v1/positions?status=open", nil).Body.Bytes(), &open)
	json.Unmarshal(env.do(t, "GET", "/api/v1/positions?status=closed", nil).Body.Bytes(), &closed)

	if len(all) != 2 || all[0].ID != a.ID || all[1].ID != b.ID {
		t.Errorf("expected both positions in insertion order, got %+v", all)
	}
	if len(open) != 1 || open[0].ID != b.ID {
		t.Errorf("expected only %s open, got %+v", b.ID, open)
	}
	if len(closed) != 1 || closed[0].ID != a.ID {
		t.Errorf("expected only %s closed, got %+v", a.ID, closed)
	}

	if w := env.do(t, "GET", "/api/v1/positions?status=pending", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", w.Code)
	}
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	closedPos := env.seed(t, model.SideBuy, "2000", now)
	env.seed(t, model.SideBuy, "2000", now)  // +500 at spot 2500
	env.seed(t, model.SideSell, "2600", now) // +100 at spot 2500
	if _, err := env.ms.Close(context.Background(), closedPos.ID, now, d("2200")); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "GET", "/api/v1/positions/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sum position.SummaryResponse
	json.Unmarshal(w.Body.Bytes(), &sum)
	if sum.Total != 3 || sum.Open != 2 || sum.Closed != 1 {
		t.Errorf("unexpected counts %+v", sum)
	}
	if !sum.RealizedPnL.Equal(d("200")) {
		t.Errorf("expected realized 200, got %s", sum.RealizedPnL)
	}
	if !sum.UnrealizedPnL.Valid || !sum.UnrealizedPnL.Decimal.Equal(d("600")) {
		t.Errorf("expected unrealized 600, got %v", sum.UnrealizedPnL)
	}

	env.feed.err = pricefeed.ErrPriceFeed
	sum = position.SummaryResponse{}
	json.Unmarshal(env.do(t, "GET", "/api/v1/positions/summary", nil).Body.Bytes(), &sum)
	if sum.UnrealizedPnL.Valid {
		t.Error("unrealized P&L should be omitted when the feed fails")
	}
}

func TestGetPrice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/price", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var q pricefeed.Quote
	json.Unmarshal(w.Body.Bytes(), &q)
	if !q.Price.Equal(d("2500")) {
		t.Errorf("expected 2500, got %s", q.Price)
	}

	env.feed.err = pricefeed.ErrPriceFeed
	if w := env.do(t, "GET", "/api/v1/price", nil); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}
