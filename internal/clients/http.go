package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethanolivertroy/reqcheck/internal/cache"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"go.trai.ch/zerr"
)

const userAgent = "reqcheck (+https://github.com/ethanolivertroy/reqcheck)"

// Options configures the HTTP behaviour shared by the remote clients
type Options struct {
	HTTPClient *http.Client
	Cache      *cache.Cache // nil disables caching
	Retries    uint
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// OptionsFromConfig builds Options from the http section of cfg
func OptionsFromConfig(cfg *models.Config, c *cache.Cache, logger *slog.Logger) Options {
	return Options{
		HTTPClient: &http.Client{Timeout: cfg.HTTP.Timeout},
		Cache:      c,
		Retries:    cfg.HTTP.Retries,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logger,
	}
}

// statusError is a non-2xx response
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.url, e.code)
}

func retryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// fetcher performs cached, retried HTTP requests
type fetcher struct {
	opts Options
}

func newFetcher(opts Options) *fetcher {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: models.DefaultTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &fetcher{opts: opts}
}

// do sends the request and returns the body of a 2xx response. A 404 yields
// models.ErrPackageNotFound; exhausted retries yield models.ErrIndexUnavailable.
func (f *fetcher) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	key := method + " " + url + " " + string(body)
	if data, ok := f.opts.Cache.Get(key); ok {
		f.opts.Logger.Debug("cache hit", "url", url)
		return data, nil
	}

	var data []byte
	err := retry.Do(func() error {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := f.opts.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return retry.Unrecoverable(zerr.With(models.ErrPackageNotFound, "url", url))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &statusError{code: resp.StatusCode, url: url}
		}

		data, err = io.ReadAll(resp.Body)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(f.opts.Retries+1),
		retry.Delay(f.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			f.opts.Logger.Debug("retrying request", "url", url, "attempt", attempt+1, "error", err)
		}),
	)
	if err != nil {
		if errors.Is(err, models.ErrPackageNotFound) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, zerr.With(zerr.With(models.ErrIndexUnavailable, "url", url), "cause", err.Error())
	}

	if err := f.opts.Cache.Set(key, data); err != nil {
		f.opts.Logger.Warn("failed to write cache entry", "url", url, "error", err)
	}
	return data, nil
}
