package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gregtusar/zerodte/pkg/broker"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	c, err := NewClient(Config{BaseURL: srv.URL, DataURL: srv.URL, Timezone: "UTC"}, NewKeyAuthenticator("key", "secret"), logger)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAuthHeadersAndClock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/clock", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"timestamp":  "2025-08-22T11:00:00-04:00",
			"is_open":    true,
			"next_open":  "2025-08-25T09:30:00-04:00",
			"next_close": "2025-08-22T16:00:00-04:00",
		})
	})
	c := newTestClient(t, mux)

	open, err := c.IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.True(t, open)
}

func TestListContractsMergesSnapshots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/options/contracts", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "SPY", q.Get("underlying_symbols"))
		assert.Equal(t, "2025-08-22", q.Get("expiration_date"))
		assert.Equal(t, "call", q.Get("type"))
		if q.Get("page_token") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"option_contracts": []map[string]interface{}{{
					"symbol": "SPY250822C00450000", "underlying_symbol": "SPY", "type": "call",
					"strike_price": "450", "expiration_date": "2025-08-22", "open_interest": "15000",
				}},
				"next_page_token": "p2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"option_contracts": []map[string]interface{}{{
				"symbol": "SPY250822C00451000", "underlying_symbol": "SPY", "type": "call",
				"strike_price": "451", "expiration_date": "2025-08-22", "open_interest": nil,
			}},
		})
	})
	mux.HandleFunc("/v1beta1/options/snapshots/SPY", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"snapshots": map[string]interface{}{
				"SPY250822C00450000": map[string]interface{}{
					"latestQuote": map[string]interface{}{"bp": 2.5, "ap": 2.6, "t": "2025-08-22T15:00:00Z"},
					"dailyBar":    map[string]interface{}{"v": 2000},
					"greeks":      map[string]interface{}{"delta": 0.51},
				},
			},
		})
	})
	c := newTestClient(t, mux)

	got, err := c.ListContracts(context.Background(), "SPY", time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC), models.OptionCall)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "SPY", first.Underlying)
	assert.True(t, first.Strike.Equal(decimal.NewFromInt(450)))
	assert.Equal(t, int64(15000), first.OpenInterest)
	assert.Equal(t, int64(2000), first.Volume)
	assert.True(t, first.Ask.Equal(decimal.RequireFromString("2.6")))
	require.NotNil(t, first.Delta)
	assert.Equal(t, 0.51, *first.Delta)
	assert.Equal(t, time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC), first.Expiry)

	assert.False(t, got[1].HasQuote())
	assert.Zero(t, got[1].OpenInterest)
}

func TestGetLatestQuoteRoutesBySymbol(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta1/options/quotes/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"quotes": map[string]interface{}{
				r.URL.Query().Get("symbols"): map[string]interface{}{"bp": 1.1, "ap": 1.2},
			},
		})
	})
	mux.HandleFunc("/v2/stocks/UVXY/quotes/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbol": "UVXY",
			"quote":  map[string]interface{}{"bp": 11.99, "ap": 12.01},
		})
	})
	c := newTestClient(t, mux)

	q, err := c.GetLatestQuote(context.Background(), "SPY250822C00450000")
	require.NoError(t, err)
	assert.True(t, q.Ask.Equal(decimal.RequireFromString("1.2")))

	q, err = c.GetLatestQuote(context.Background(), "UVXY")
	require.NoError(t, err)
	assert.True(t, q.Mid().Equal(decimal.NewFromInt(12)))
}

func TestGetSpotPrice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/stocks/SPY/trades/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": "SPY", "trade": map[string]interface{}{"p": 450.25}})
	})
	c := newTestClient(t, mux)

	spot, err := c.GetSpotPrice(context.Background(), "SPY")
	require.NoError(t, err)
	assert.True(t, spot.Equal(decimal.RequireFromString("450.25")))
}

func TestSubmitOrders(t *testing.T) {
	var bodies []orderRequestDTO
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body orderRequestDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		if body.Type == "market" {
			writeJSON(w, http.StatusForbidden, map[string]interface{}{"code": 40310000, "message": "market orders not allowed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "ord-1", "status": "accepted"})
	})
	c := newTestClient(t, mux)
	req := models.OrderRequest{Symbol: "SPY250822C00450000", Side: models.OrderSideBuy, Qty: 2, ClientOrderID: "abc"}

	_, err := c.SubmitMarketOrder(context.Background(), req)
	require.ErrorIs(t, err, broker.ErrOrderRejected)
	assert.Contains(t, err.Error(), "market orders not allowed")

	req.LimitPrice = decimal.RequireFromString("2.1")
	id, err := c.SubmitLimitOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", id)

	require.Len(t, bodies, 2)
	assert.Equal(t, "2", bodies[1].Qty)
	assert.Equal(t, "2.10", bodies[1].LimitPrice)
	assert.Equal(t, "day", bodies[1].TimeInForce)
	assert.Empty(t, bodies[0].LimitPrice)
}

func TestGetOrderAndErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders/ord-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": "ord-1", "symbol": "SPY250822C00450000", "qty": "2", "filled_qty": "1",
			"filled_avg_price": "2.55", "status": "partially_filled", "side": "buy", "type": "market",
		})
	})
	mux.HandleFunc("/v2/orders/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"code": 40410000, "message": "order not found"})
	})
	mux.HandleFunc("/v2/orders/flaky", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, mux)

	o, err := c.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPartiallyFilled, o.Status)
	assert.Equal(t, int64(2), o.Qty)
	assert.Equal(t, int64(1), o.FilledQty)
	assert.True(t, o.FilledAvgPrice.Equal(decimal.RequireFromString("2.55")))

	require.NoError(t, c.CancelOrder(context.Background(), "ord-1"))

	_, err = c.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, broker.ErrNotFound)

	_, err = c.GetOrder(context.Background(), "flaky")
	assert.ErrorIs(t, err, broker.ErrUnavailable)
}

func TestGetOrderByClientID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders:by_client_order_id", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("client_order_id") != "cid-1" {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"code": 40410000, "message": "order not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": "ord-9", "client_order_id": "cid-1", "symbol": "SPY250822C00450000",
			"qty": "1", "filled_qty": "0", "status": "replaced", "replaced_by": "ord-10",
		})
	})
	c := newTestClient(t, mux)

	o, err := c.GetOrderByClientID(context.Background(), "cid-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-9", o.OrderID)
	assert.Equal(t, models.OrderStatusReplaced, o.Status)
	assert.Equal(t, "ord-10", o.ReplacedBy)

	_, err = c.GetOrderByClientID(context.Background(), "cid-unknown")
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestOrderStatusMapping(t *testing.T) {
	assert.Equal(t, models.OrderStatusNew, orderStatus("pending_new"))
	assert.Equal(t, models.OrderStatusCanceled, orderStatus("expired"))
	assert.Equal(t, models.OrderStatusReplaced, orderStatus("replaced"))
	assert.Equal(t, models.OrderStatusRejected, orderStatus("rejected"))
	assert.Equal(t, models.OrderStatusFilled, orderStatus("filled"))
}

func TestIsOptionSymbol(t *testing.T) {
	assert.True(t, IsOptionSymbol("SPY250822C00450000"))
	assert.True(t, IsOptionSymbol("UVXY250822P00012500"))
	assert.False(t, IsOptionSymbol("SPY"))
	assert.False(t, IsOptionSymbol("SPY250822X00450000"))
}

func TestMissingCredentials(t *testing.T) {
	_, err := NewAuthenticator("bogus", "", "", "")
	assert.Error(t, err)
	assert.Error(t, NewKeyAuthenticator("", "").AddAuthHeaders(http.Header{}))
	assert.Error(t, NewOAuthAuthenticator("").AddAuthHeaders(http.Header{}))
}
