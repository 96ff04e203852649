// Package linkresolver resolves tracking links to the page they land on.
package linkresolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/ledger"
	"saledrop-pipeline/internal/models"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Store persists resolved links
type Store interface {
	FindLink(ctx context.Context, trackedURL string) (*models.ResolvedLink, error)
	CreateLink(ctx context.Context, link *models.ResolvedLink) (bool, error)
}

// Resolver follows tracking links at most once per distinct URL
type Resolver struct {
	client         *http.Client
	store          Store
	ledger         ledger.Recorder
	maxRetries     int
	initialBackoff time.Duration
	now            func() time.Time
}

// New creates a resolver. When cfg.ProxyURL is set every request goes
// through that forward proxy.
func New(cfg config.LinksConfig, store Store, rec ledger.Recorder) (*Resolver, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &Resolver{
		client:         &http.Client{Transport: transport, Timeout: cfg.Timeout},
		store:          store,
		ledger:         rec,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		now:            time.Now,
	}, nil
}

// Resolve records the landing page of trackedURL. It is a no-op when the
// URL was resolved before. Failures go to the error ledger and nil is
// returned; callers never need to handle them.
func (r *Resolver) Resolve(ctx context.Context, trackedURL string) *models.ResolvedLink {
	existing, err := r.store.FindLink(ctx, trackedURL)
	if err != nil {
		r.ledger.Record(ctx, ledger.TaskResolveLink, true, err)
		return nil
	}
	if existing != nil {
		return existing
	}

	final, err := r.follow(ctx, trackedURL)
	if err != nil {
		r.ledger.Record(ctx, ledger.TaskResolveLink, true, fmt.Errorf("resolve %s: %w", trackedURL, err))
		return nil
	}

	link := &models.ResolvedLink{
		TrackedURL:   trackedURL,
		RedirectURL:  final.String(),
		CanonicalURL: Canonicalize(final),
		ResolvedAt:   r.now().UTC(),
	}
	if _, err := r.store.CreateLink(ctx, link); err != nil {
		r.ledger.Record(ctx, ledger.TaskResolveLink, true, err)
		return nil
	}

	logrus.WithFields(logrus.Fields{"tracked": trackedURL, "canonical": link.CanonicalURL}).Debug("Resolved link")
	return link
}

// follow issues the GET with retries on 429, 5xx and transport errors and
// returns the URL the redirects ended on
func (r *Resolver) follow(ctx context.Context, trackedURL string) (*url.URL, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	retries := r.maxRetries - 1
	if retries < 0 {
		retries = 0
	}

	var final *url.URL
	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackedURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "nl-NL,nl;q=0.9,en;q=0.8")

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		final = resp.Request.URL
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	if err != nil {
		return nil, err
	}
	return final, nil
}

// Canonicalize drops the query string and fragment of u
func Canonicalize(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}
