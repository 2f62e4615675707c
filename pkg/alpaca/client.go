// Package alpaca adapts the Alpaca trading and market-data REST APIs to the
// broker interfaces. Wire formats are normalized into pkg/models here and
// nowhere else.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gregtusar/zerodte/pkg/broker"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	PaperURL = "https://paper-api.alpaca.markets"
	LiveURL  = "https://api.alpaca.markets"
	DataURL  = "https://data.alpaca.markets"

	pageLimit = "1000"
)

type Config struct {
	BaseURL           string        `mapstructure:"base_url"`
	DataURL           string        `mapstructure:"data_url"`
	AuthType          AuthType      `mapstructure:"auth_type"`
	KeyID             string        `mapstructure:"key_id"`
	SecretKey         string        `mapstructure:"secret_key"`
	OAuthToken        string        `mapstructure:"oauth_token"`
	Paper             bool          `mapstructure:"paper"`
	Feed              string        `mapstructure:"feed"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	// Timezone is the exchange's location, used for expiry dates and Now.
	Timezone string `mapstructure:"timezone"`
}

// Client implements broker.Broker. Retries are left to the recovery layer.
type Client struct {
	trading *resty.Client
	data    *resty.Client
	limiter *rate.Limiter
	feed    string
	loc     *time.Location
	logger  *logrus.Logger
	now     func() time.Time
}

var _ broker.Broker = (*Client)(nil)

func NewClient(cfg Config, auth Authenticator, logger *logrus.Logger) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = LiveURL
		if cfg.Paper {
			baseURL = PaperURL
		}
	}
	dataURL := cfg.DataURL
	if dataURL == "" {
		dataURL = DataURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone %s: %w", cfg.Timezone, err)
		}
		loc = l
	}
	feed := cfg.Feed
	if feed == "" {
		feed = "indicative"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Client{feed: feed, loc: loc, logger: logger, now: time.Now}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1+cfg.RequestsPerMinute/60)
	}
	c.trading = c.newResty(strings.TrimSuffix(baseURL, "/"), timeout, auth)
	c.data = c.newResty(strings.TrimSuffix(dataURL, "/"), timeout, auth)
	return c, nil
}

func (c *Client) newResty(baseURL string, timeout time.Duration, auth Authenticator) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "zerodte").
		SetError(&errorDTO{}).
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if c.limiter != nil {
				if err := c.limiter.Wait(r.Context()); err != nil {
					return err
				}
			}
			return auth.AddAuthHeaders(r.Header)
		})
}

// Location is the exchange's time zone.
func (c *Client) Location() *time.Location { return c.loc }

func (c *Client) Now() time.Time { return c.now().In(c.loc) }

func (c *Client) Clock(ctx context.Context) (*models.MarketClock, error) {
	var out clockDTO
	resp, err := c.trading.R().SetContext(ctx).SetResult(&out).Get("/v2/clock")
	if err := check(resp, err, "get clock", false); err != nil {
		return nil, err
	}
	return &models.MarketClock{
		IsOpen:    out.IsOpen,
		Timestamp: out.Timestamp,
		NextOpen:  out.NextOpen,
		NextClose: out.NextClose,
	}, nil
}

func (c *Client) IsMarketOpen(ctx context.Context) (bool, error) {
	clock, err := c.Clock(ctx)
	if err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}

// GetSpotPrice returns the last trade price of the underlying.
func (c *Client) GetSpotPrice(ctx context.Context, underlying string) (decimal.Decimal, error) {
	var out stockTradeResponse
	resp, err := c.data.R().SetContext(ctx).
		SetPathParam("symbol", underlying).
		SetQueryParam("feed", "iex").
		SetResult(&out).
		Get("/v2/stocks/{symbol}/trades/latest")
	if err := check(resp, err, "get spot price", false); err != nil {
		return decimal.Zero, err
	}
	if !out.Trade.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no trade price for %s: %w", underlying, broker.ErrUnavailable)
	}
	return out.Trade.Price, nil
}

// ListContracts pages through the contract listing and merges in snapshot
// quotes, daily volume and greeks. Snapshot failures leave candidates
// unquoted.
func (c *Client) ListContracts(ctx context.Context, underlying string, expiry time.Time, class models.OptionClass) ([]models.ContractCandidate, error) {
	exp := expiry.Format(models.DateLayout)
	optType := strings.ToLower(string(class))

	var out []models.ContractCandidate
	token := ""
	for {
		var page contractsResponse
		req := c.trading.R().SetContext(ctx).
			SetQueryParams(map[string]string{
				"underlying_symbols": underlying,
				"expiration_date":    exp,
				"status":             "active",
				"limit":              pageLimit,
			}).
			SetResult(&page)
		if optType != "" {
			req.SetQueryParam("type", optType)
		}
		if token != "" {
			req.SetQueryParam("page_token", token)
		}
		resp, err := req.Get("/v2/options/contracts")
		if err := check(resp, err, "list contracts", false); err != nil {
			return nil, err
		}
		for _, dto := range page.OptionContracts {
			out = append(out, dto.toCandidate(c.loc))
		}
		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		token = *page.NextPageToken
	}
	if len(out) == 0 {
		return nil, nil
	}

	snaps, err := c.snapshots(ctx, underlying, exp, optType)
	if err != nil {
		c.logger.WithError(err).WithField("underlying", underlying).Warn("Snapshot fetch failed, contracts left unquoted")
		return out, nil
	}
	for i, cand := range out {
		if s, ok := snaps[cand.Symbol]; ok {
			out[i] = s.apply(cand)
		}
	}
	return out, nil
}

func (c *Client) snapshots(ctx context.Context, underlying, exp, optType string) (map[string]snapshotDTO, error) {
	all := make(map[string]snapshotDTO)
	token := ""
	for {
		var page snapshotsResponse
		req := c.data.R().SetContext(ctx).
			SetPathParam("underlying", underlying).
			SetQueryParams(map[string]string{
				"feed":            c.feed,
				"expiration_date": exp,
				"limit":           pageLimit,
			}).
			SetResult(&page)
		if optType != "" {
			req.SetQueryParam("type", optType)
		}
		if token != "" {
			req.SetQueryParam("page_token", token)
		}
		resp, err := req.Get("/v1beta1/options/snapshots/{underlying}")
		if err := check(resp, err, "get snapshots", false); err != nil {
			return nil, err
		}
		for sym, s := range page.Snapshots {
			all[sym] = s
		}
		if page.NextPageToken == nil || *page.NextPageToken == "" {
			return all, nil
		}
		token = *page.NextPageToken
	}
}

// GetLatestQuote handles both OCC option symbols and plain equities.
func (c *Client) GetLatestQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if !IsOptionSymbol(symbol) {
		var out stockQuoteResponse
		resp, err := c.data.R().SetContext(ctx).
			SetPathParam("symbol", symbol).
			SetQueryParam("feed", "iex").
			SetResult(&out).
			Get("/v2/stocks/{symbol}/quotes/latest")
		if err := check(resp, err, "get stock quote", false); err != nil {
			return models.Quote{}, err
		}
		return out.Quote.toQuote(symbol), nil
	}

	var out latestQuotesResponse
	resp, err := c.data.R().SetContext(ctx).
		SetQueryParams(map[string]string{"symbols": symbol, "feed": c.feed}).
		SetResult(&out).
		Get("/v1beta1/options/quotes/latest")
	if err := check(resp, err, "get option quote", false); err != nil {
		return models.Quote{}, err
	}
	q, ok := out.Quotes[symbol]
	if !ok {
		return models.Quote{}, fmt.Errorf("no quote for %s: %w", symbol, broker.ErrNotFound)
	}
	return q.toQuote(symbol), nil
}

func (c *Client) SubmitMarketOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	req.Type = models.OrderTypeMarket
	return c.submitOrder(ctx, req)
}

func (c *Client) SubmitLimitOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	if !req.LimitPrice.IsPositive() {
		return "", fmt.Errorf("limit price required for %s: %w", req.Symbol, broker.ErrOrderRejected)
	}
	req.Type = models.OrderTypeLimit
	return c.submitOrder(ctx, req)
}

func (c *Client) submitOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	tif := req.TimeInForce
	if tif == "" {
		tif = "day"
	}
	body := orderRequestDTO{
		Symbol:        req.Symbol,
		Qty:           fmt.Sprintf("%d", req.Qty),
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   tif,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == models.OrderTypeLimit {
		body.LimitPrice = req.LimitPrice.StringFixed(2)
	}

	var out orderDTO
	resp, err := c.trading.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/v2/orders")
	if err := check(resp, err, "submit order", true); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("order accepted without an id")
	}
	return out.ID, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var out orderDTO
	resp, err := c.trading.R().SetContext(ctx).
		SetPathParam("id", orderID).
		SetResult(&out).
		Get("/v2/orders/{id}")
	if err := check(resp, err, "get order", false); err != nil {
		return nil, err
	}
	return out.toOrder(), nil
}

func (c *Client) GetOrderByClientID(ctx context.Context, clientOrderID string) (*models.Order, error) {
	var out orderDTO
	resp, err := c.trading.R().SetContext(ctx).
		SetQueryParam("client_order_id", clientOrderID).
		SetResult(&out).
		Get("/v2/orders:by_client_order_id")
	if err := check(resp, err, "get order by client id", false); err != nil {
		return nil, err
	}
	return out.toOrder(), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	resp, err := c.trading.R().SetContext(ctx).
		SetPathParam("id", orderID).
		Delete("/v2/orders/{id}")
	return check(resp, err, "cancel order", false)
}

// check maps transport and HTTP failures onto the broker sentinels. On order
// submission, 403 and 422 are venue rejections.
func check(resp *resty.Response, err error, op string, submission bool) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}

	msg := strings.TrimSpace(resp.String())
	var apiErr errorDTO
	if e, ok := resp.Error().(*errorDTO); ok && e != nil && e.Message != "" {
		apiErr = *e
		msg = e.Message
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %s: %w", op, msg, broker.ErrNotFound)
	case submission && (status == http.StatusForbidden || status == http.StatusUnprocessableEntity):
		return fmt.Errorf("%s: %s (code %d): %w", op, msg, apiErr.Code, broker.ErrOrderRejected)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%s: status %d: %s: %w", op, status, msg, broker.ErrUnavailable)
	}
	return fmt.Errorf("%s: status %d: %s", op, status, msg)
}
