package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
)

// HTTPSource fetches quotes from a JSON price feed. The feed answers
// GET <base>?token=<address> with {"price": "...", "timestamp": "..."}.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	retries uint
}

// NewHTTPSource creates a source for the given feed URL.
func NewHTTPSource(baseURL string, retries uint) *HTTPSource {
	if retries == 0 {
		retries = 3
	}
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: retries,
	}
}

type feedResponse struct {
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// GetPrice fetches one quote, retrying transient failures with backoff.
func (s *HTTPSource) GetPrice(ctx context.Context, tokenAddress string) (Quote, error) {
	op := func() (Quote, error) {
		return s.fetch(ctx, tokenAddress)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	quote, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.retries))
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, tokenAddress, err)
	}
	return quote, nil
}

func (s *HTTPSource) fetch(ctx context.Context, tokenAddress string) (Quote, error) {
	reqURL := s.baseURL + "?token=" + url.QueryEscape(tokenAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Quote{}, backoff.Permanent(err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return Quote{}, backoff.Permanent(fmt.Errorf("unknown token %s", tokenAddress))
	case resp.StatusCode >= 500:
		return Quote{}, fmt.Errorf("feed returned %d", resp.StatusCode)
	default:
		return Quote{}, backoff.Permanent(fmt.Errorf("feed returned %d", resp.StatusCode))
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, err
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return Quote{}, backoff.Permanent(fmt.Errorf("bad price %q: %w", body.Price, err))
	}
	if !price.IsPositive() {
		return Quote{}, backoff.Permanent(fmt.Errorf("non-positive price %s", price))
	}

	asOf := body.Timestamp
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return Quote{Price: price, AsOf: asOf}, nil
}
