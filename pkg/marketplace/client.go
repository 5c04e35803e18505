package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/pricekit/repricer/pkg/httpclient"
	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/redis"
	"github.com/pricekit/repricer/pkg/resilience"
)

var (
	// ErrNoCompetitorListing means the search returned no competing offers.
	ErrNoCompetitorListing = errors.New("no competitor listing found")
	// ErrNotAuthenticated means the marketplace rejected the session.
	ErrNotAuthenticated = errors.New("marketplace session not authenticated")
)

const (
	// DefaultLookupLimit is the allowed lookup calls per window.
	DefaultLookupLimit = 30
	// DefaultUpdateLimit is the allowed update calls per window.
	DefaultUpdateLimit = 10
	// DefaultRateWindow is the sliding window for both limits.
	DefaultRateWindow = time.Minute
	// DefaultMaxRateWait bounds how long a call waits on the rate limiter.
	DefaultMaxRateWait = 90 * time.Second

	lookupLimitKey = "lookup"
	updateLimitKey = "update"
)

// Config holds marketplace client configuration
type Config struct {
	BaseURL     string
	LookupLimit int64
	UpdateLimit int64
	RateWindow  time.Duration
	MaxRateWait time.Duration
}

// DefaultConfig returns default marketplace client configuration
func DefaultConfig() Config {
	return Config{
		LookupLimit: DefaultLookupLimit,
		UpdateLimit: DefaultUpdateLimit,
		RateWindow:  DefaultRateWindow,
		MaxRateWait: DefaultMaxRateWait,
	}
}

// Client speaks the marketplace HTTP API. It implements CompetitorLookup,
// UpdateAPI and Session, classifying failures by status code and honoring
// Retry-After by blocking the shared rate limit buckets.
type Client struct {
	http    *httpclient.Client
	limiter *redis.RateLimiter
	cfg     Config
	logger  ectologger.Logger
}

// NewClient creates a new marketplace client
func NewClient(cfg Config, http *httpclient.Client, limiter *redis.RateLimiter, logger ectologger.Logger) *Client {
	defaults := DefaultConfig()
	if cfg.LookupLimit <= 0 {
		cfg.LookupLimit = defaults.LookupLimit
	}
	if cfg.UpdateLimit <= 0 {
		cfg.UpdateLimit = defaults.UpdateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaults.RateWindow
	}
	if cfg.MaxRateWait <= 0 {
		cfg.MaxRateWait = defaults.MaxRateWait
	}
	return &Client{
		http:    http,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
	}
}

type searchResponse struct {
	LowestPrice int64 `json:"lowest_price"`
	OfferCount  int   `json:"offer_count"`
}

// LookupPrice finds the lowest competitor price for the product by brand and
// name search.
func (c *Client) LookupPrice(ctx context.Context, product *models.Product) (int64, error) {
	const op = "marketplace.lookup"

	if err := c.waitForLimit(ctx, lookupLimitKey, c.cfg.LookupLimit); err != nil {
		return 0, err
	}

	query := url.Values{}
	query.Set("brand", product.Brand)
	query.Set("name", product.Name)
	searchURL := fmt.Sprintf("%s/api/offers/search?%s", c.cfg.BaseURL, query.Encode())

	resp, err := c.http.Get(ctx, searchURL, nil)
	if err != nil {
		return 0, resilience.NewFailure(resilience.KindOf(err), op, err)
	}
	if failure := c.classify(ctx, op, lookupLimitKey, resp); failure != nil {
		return 0, failure
	}

	var body searchResponse
	if err := resp.DecodeJSON(&body); err != nil {
		return 0, resilience.NewFailure(resilience.FailureTransient, op, err)
	}
	if body.OfferCount == 0 || body.LowestPrice <= 0 {
		return 0, resilience.NewFailure(resilience.FailureFatal, op, ErrNoCompetitorListing)
	}

	return body.LowestPrice, nil
}

type priceUpdateRequest struct {
	Price     int64  `json:"price"`
	RequestID string `json:"request_id"`
}

// ApplyPrice updates the listing price. The request carries a deterministic
// request id per (product, price) so a retried call after a timeout is safe.
func (c *Client) ApplyPrice(ctx context.Context, product *models.Product, newPrice int64) error {
	const op = "marketplace.update"

	if err := c.waitForLimit(ctx, updateLimitKey, c.cfg.UpdateLimit); err != nil {
		return err
	}

	updateURL := fmt.Sprintf("%s/api/listings/%s/price", c.cfg.BaseURL, product.ID)
	payload := priceUpdateRequest{
		Price:     newPrice,
		RequestID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s:%d", product.ID, newPrice))).String(),
	}

	resp, err := c.http.PutJSON(ctx, updateURL, payload, nil)
	if err != nil {
		return resilience.NewFailure(resilience.KindOf(err), op, err)
	}
	if failure := c.classify(ctx, op, updateLimitKey, resp); failure != nil {
		return failure
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id": product.ID,
		"new_price":  newPrice,
	}).Infof("Applied price update")

	return nil
}

// IsAuthenticated performs a low-cost authenticated probe. A redirect toward
// a login surface or a 401/403 means the session is gone.
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	probeURL := fmt.Sprintf("%s/api/account", c.cfg.BaseURL)

	resp, err := c.http.Get(ctx, probeURL, nil)
	if err != nil {
		return false, resilience.NewFailure(resilience.KindOf(err), "marketplace.probe", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// Anonymous users get bounced to the login page.
		return false, nil
	default:
		return false, c.classify(ctx, "marketplace.probe", lookupLimitKey, resp)
	}
}

// Login re-establishes the session. Credential rejection is fatal; transport
// failures during login stay retryable.
func (c *Client) Login(ctx context.Context, creds Credentials) error {
	const op = "marketplace.login"

	loginURL := fmt.Sprintf("%s/api/login", c.cfg.BaseURL)
	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	resp, err := c.http.PostForm(ctx, loginURL, form, nil)
	if err != nil {
		return resilience.NewFailure(resilience.KindOf(err), op, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || (resp.StatusCode >= 300 && resp.StatusCode < 400):
		// A post-login redirect is a success; the cookie jar holds the session.
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resilience.NewFailure(resilience.FailureFatal, op, ErrNotAuthenticated)
	default:
		return c.classify(ctx, op, lookupLimitKey, resp)
	}
}

// waitForLimit blocks on the shared rate limiter before an outbound call.
func (c *Client) waitForLimit(ctx context.Context, key string, limit int64) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, key, limit, c.cfg.RateWindow, c.cfg.MaxRateWait); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return resilience.NewFailure(resilience.FailureCancelled, "marketplace."+key, err)
		}
		return resilience.NewFailure(resilience.FailureRateLimited, "marketplace."+key, err)
	}
	return nil
}

// classify maps a non-2xx response to a Failure; nil for success statuses.
func (c *Client) classify(ctx context.Context, op, limitKey string, resp *httpclient.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := resp.RetryAfter()
		if retryAfter > 0 && c.limiter != nil {
			if err := c.limiter.BlockFor(ctx, limitKey, retryAfter); err != nil {
				c.logger.WithContext(ctx).WithError(err).Warnf("Failed to block rate limit bucket %s", limitKey)
			}
		}
		c.logger.WithContext(ctx).Warnf("Marketplace throttled %s (Retry-After %v)", op, retryAfter)
		return resilience.NewFailure(resilience.FailureRateLimited, op,
			fmt.Errorf("status %d", resp.StatusCode)).WithRetryAfter(retryAfter)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return resilience.NewFailure(resilience.FailureTimeout, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable:
		return resilience.NewFailure(resilience.FailureServerUnavailable, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return resilience.NewFailure(resilience.FailureServerUnavailable, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resilience.NewFailure(resilience.FailureFatal, op, ErrNotAuthenticated)
	default:
		// Remaining 4xx: the request itself is wrong, retrying cannot help.
		return resilience.NewFailure(resilience.FailureFatal, op, fmt.Errorf("status %d", resp.StatusCode))
	}
}
