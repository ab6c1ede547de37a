package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/errkind"
)

// HTTPMarket adapts the market data feed's HTTP API to the Market interface.
type HTTPMarket struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPMarket builds the adapter with its own pooled client.
func NewHTTPMarket(cfg config.MarketBackendConfig) *HTTPMarket {
	return &HTTPMarket{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
	}
}

// Quote fetches the current snapshot for a symbol.
func (m *HTTPMarket) Quote(ctx context.Context, symbol string) (*StockSnapshot, error) {
	if symbol == "" {
		return nil, errkind.Wrap(errkind.ErrValidation, "empty symbol")
	}
	var snap StockSnapshot
	if err := m.getJSON(ctx, "/api/stock/"+url.PathEscape(symbol), &snap); err != nil {
		return nil, err
	}
	if snap.AsOf.IsZero() {
		snap.AsOf = time.Now().UTC()
	}
	return &snap, nil
}

// SearchSymbols looks up ticker codes by company name.
func (m *HTTPMarket) SearchSymbols(ctx context.Context, name string) ([]Symbol, error) {
	if name == "" {
		return nil, errkind.Wrap(errkind.ErrValidation, "empty name")
	}
	var out struct {
		Symbols []Symbol `json:"symbols"`
	}
	path := "/api/stock/search?name=" + url.QueryEscape(name)
	if err := m.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Symbols, nil
}

func (m *HTTPMarket) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return errkind.Wrap(errkind.ErrValidation, "market request: %v", err)
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if kerr := errkind.FromContext(err); kerr != err {
			return errkind.Wrap(kerr, "market: %v", err)
		}
		return errkind.Wrap(errkind.ErrBackendUnavailable, "market: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errkind.Wrap(errkind.ErrUpstream, "market read: %v", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errkind.Wrap(errkind.ErrQuery, "market: not found")
	case resp.StatusCode >= 500:
		return errkind.Wrap(errkind.ErrUpstream, "market: %s", resp.Status)
	case resp.StatusCode >= 400:
		return errkind.Wrap(errkind.ErrQuery, "market: %s", resp.Status)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errkind.Wrap(errkind.ErrParse, "market payload: %v", err)
	}
	return nil
}

// String identifies the adapter in logs.
func (m *HTTPMarket) String() string {
	return fmt.Sprintf("market(%s)", m.baseURL)
}
