package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Client is the live REST gateway. The rate limiter is shared across every
// council in the process so that one council's burst cannot starve others.
type Client struct {
	host       string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type ClientOptions struct {
	BaseURL           string
	APIKey            string
	APISecret         string
	Timeout           time.Duration
	RequestsPerMinute int
	Burst             int
}

func NewClient(opts ClientOptions) *Client {
	host := strings.TrimRight(opts.BaseURL, "/")
	if host == "" {
		host = "https://testnet.binancefuture.com"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 1200
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = rpm / 10
	}
	return &Client{
		host:       host,
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
	}
}

type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if query == nil {
		query = url.Values{}
	}
	if signed {
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		mac := hmac.New(sha256.New, []byte(c.apiSecret))
		mac.Write([]byte(query.Encode()))
		query.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	}
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Message: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Message: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		var eb apiErrorBody
		_ = json.Unmarshal(body, &eb)
		if eb.Msg == "" {
			eb.Msg = string(body)
		}
		return nil, parseAPIError(resp.StatusCode, eb.Code, eb.Msg)
	}
	return body, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (Quote, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/ticker/price", query, false)
	if err != nil {
		return Quote{}, err
	}
	var payload struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Quote{}, &NetworkError{Message: "decode ticker", Err: err}
	}
	price, err := decimal.NewFromString(payload.Price)
	if err != nil {
		return Quote{}, &NetworkError{Message: "parse ticker price", Err: err}
	}
	return Quote{Symbol: payload.Symbol, Price: price, At: time.Now().UTC()}, nil
}

func (c *Client) GetAccount(ctx context.Context) (Account, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/account", nil, true)
	if err != nil {
		return Account{}, err
	}
	var payload struct {
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Account{}, &NetworkError{Message: "decode account", Err: err}
	}
	balance, err := decimal.NewFromString(payload.AvailableBalance)
	if err != nil {
		return Account{}, &NetworkError{Message: "parse balance", Err: err}
	}
	return Account{AvailableBalance: balance}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	query := url.Values{}
	query.Set("symbol", req.Symbol)
	query.Set("side", req.Side)
	orderType := req.Type
	if orderType == "" {
		orderType = "MARKET"
	}
	query.Set("type", orderType)
	query.Set("quantity", req.Quantity.String())
	if req.IdempotencyToken != "" {
		query.Set("newClientOrderId", req.IdempotencyToken)
	}
	if req.ReduceOnly {
		query.Set("reduceOnly", "true")
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/order", query, true)
	if err != nil {
		return OrderResult{}, err
	}
	var payload struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return OrderResult{}, &NetworkError{Message: "decode order", Err: err}
	}
	filled, _ := decimal.NewFromString(payload.ExecutedQty)
	avg, _ := decimal.NewFromString(payload.AvgPrice)
	if filled.IsZero() {
		filled = req.Quantity
	}
	return OrderResult{
		OrderID:        strconv.FormatInt(payload.OrderID, 10),
		Symbol:         payload.Symbol,
		Side:           payload.Side,
		Status:         payload.Status,
		FilledQuantity: filled,
		AvgPrice:       avg,
	}, nil
}
