package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const simplePricePath = "/simple/price"

// PricesOptions parameterise the market data client.
type PricesOptions struct {
	BaseURL    string
	VsCurrency string
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
}

// Prices fetches token prices from a CoinGecko-compatible API.
type Prices struct {
	opts    PricesOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPrices constructs a price fetcher.
func NewPrices(opts PricesOptions, logger zerolog.Logger) *Prices {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	return &Prices{
		opts:    opts,
		logger:  logger.With().Str("component", "price_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func retryBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    200 * time.Millisecond,
		Max:    5 * time.Second,
		Jitter: true,
	}
}

// FetchTokenPrice retrieves the current price for one token id. Failures are
// retried with exponential backoff; an exhausted retry budget surfaces as a
// single transient error for the cycle.
func (p *Prices) FetchTokenPrice(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	if tokenID == "" {
		return decimal.Decimal{}, errors.New("token id required")
	}

	b := retryBackoff()
	var lastErr error
	for attempt := 0; attempt < p.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := b.Duration()
			p.logger.Debug().Str("token", tokenID).Int("attempt", attempt).Dur("delay", delay).Msg("retrying price fetch")
			select {
			case <-ctx.Done():
				return decimal.Decimal{}, Transient(ctx.Err())
			case <-time.After(delay):
			}
		}

		price, err := p.fetchOnce(ctx, tokenID)
		if err == nil {
			return price, nil
		}
		lastErr = err
	}

	return decimal.Decimal{}, Transient(lastErr)
}

func (p *Prices) fetchOnce(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("ids", tokenID)
	query.Set("vs_currencies", p.opts.VsCurrency)
	endpoint := p.baseURL + simplePricePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseAPIError(resp.StatusCode, payload)
	}

	// Response shape: {"<id>": {"<vs_currency>": 123.45}}
	var body map[string]map[string]json.Number
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode price response: %w", err)
	}

	quotes, ok := body[tokenID]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no price data for token %q", tokenID)
	}
	raw, ok := quotes[p.opts.VsCurrency]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no %s quote for token %q", p.opts.VsCurrency, tokenID)
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price: %w", err)
	}
	if price.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("non-positive price %s for token %q", price, tokenID)
	}

	return price, nil
}

type apiErrorResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Error string `json:"error"`
}

func parseAPIError(status int, payload []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("price api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("price api error (%d)", status)
}

var _ PriceSource = (*Prices)(nil)
