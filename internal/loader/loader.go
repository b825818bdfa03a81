package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/resilience"
)

const blankHTML = "<html><head></head><body></body></html>"

// Loader fetches pages for the surface. Remote pages go through a per-host
// circuit breaker; local pages are read from the asset root if an allow
// pattern matches them.
type Loader struct {
	config   Config
	client   *resty.Client
	breakers *resilience.Group
	policy   *bluemonday.Policy
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// New creates a loader. Zero config fields take their defaults, except
// RetryCount where zero means no retries.
func New(cfg Config, logger *zap.Logger) (*Loader, error) {
	defaults := DefaultConfig()
	if cfg.AssetRoot == "" {
		cfg.AssetRoot = defaults.AssetRoot
	}
	if cfg.AllowPatterns == nil {
		cfg.AllowPatterns = defaults.AllowPatterns
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaults.MaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	for _, pattern := range cfg.AllowPatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid allow pattern %q", pattern)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Pooled transport from retryablehttp; retries themselves are resty's.
	pooled := retryablehttp.NewClient()
	pooled.Logger = nil

	client := resty.New().
		SetTimeout(cfg.FetchTimeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5").
		SetTransport(pooled.HTTPClient.Transport).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})

	return &Loader{
		config:   cfg,
		client:   client,
		breakers: resilience.NewGroup(breakerSettings(logger)),
		policy:   bluemonday.UGCPolicy(),
		logger:   logger,
	}, nil
}

func breakerSettings(logger *zap.Logger) resilience.Settings {
	return resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return !statusErr.Temporary()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("origin breaker state changed",
				zap.String("host", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}
}

// WithMetrics adds metrics tracking to the loader.
func (l *Loader) WithMetrics(metrics *monitoring.Metrics) *Loader {
	l.metrics = metrics
	return l
}

// WithBreakers replaces the per-host breaker group.
func (l *Loader) WithBreakers(group *resilience.Group) *Loader {
	l.breakers = group
	return l
}

// Config returns the effective configuration.
func (l *Loader) Config() Config {
	return l.config
}

// Fetch loads and decodes the page at uri.
func (l *Loader) Fetch(ctx context.Context, uri string) (*Page, error) {
	start := time.Now()

	kind, target, err := Resolve(uri)
	if err != nil {
		return nil, err
	}

	var page *Page
	source := SourceAsset
	switch kind {
	case KindInline:
		source = SourceInline
		page = &Page{URL: target, Source: SourceInline, ContentType: "text/html", Charset: "utf-8", HTML: blankHTML}
	case KindRemote:
		source = SourceRemote
		page, err = l.fetchRemote(ctx, target)
	default:
		page, err = l.readAsset(target)
	}

	elapsed := time.Since(start)
	if err != nil {
		l.metrics.RecordPageLoad(string(source), "error", elapsed)
		l.logger.Debug("page load failed",
			zap.String("uri", uri),
			zap.String("source", string(source)),
			zap.Error(err),
		)
		return nil, err
	}

	page.FetchedAt = time.Now()
	l.metrics.RecordPageLoad(string(source), "ok", elapsed)
	l.logger.Debug("page loaded",
		zap.String("url", page.URL),
		zap.String("source", string(source)),
		zap.String("charset", page.Charset),
		zap.Int("bytes", len(page.HTML)),
		zap.Duration("elapsed", elapsed),
	)
	return page, nil
}

func (l *Loader) fetchRemote(ctx context.Context, target string) (*Page, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadURI, target)
	}

	breaker := l.breakers.Get(u.Host)
	resp, err := resilience.Execute(breaker, func() (*resty.Response, error) {
		resp, err := l.client.R().SetContext(ctx).Get(target)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return resp, &StatusError{URL: target, Code: resp.StatusCode()}
		}
		return resp, nil
	})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	body := resp.Body()
	if int64(len(body)) > l.config.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes from %s", ErrTooLarge, len(body), target)
	}

	page, err := decode(body, resp.Header().Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	page.URL = target
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		page.URL = raw.Request.URL.String()
	}
	page.Source = SourceRemote

	if l.config.SanitizeRemote {
		page.HTML = l.policy.Sanitize(page.HTML)
	}
	return page, nil
}

func (l *Loader) readAsset(rel string) (*Page, error) {
	if !l.Allowed(rel) {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowed, rel)
	}

	full := filepath.Join(l.config.AssetRoot, filepath.FromSlash(rel))
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("open asset %s: %w", rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat asset %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, rel)
	}

	var r io.Reader = f
	if strings.HasSuffix(rel, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open compressed asset %s: %w", rel, err)
		}
		defer gz.Close()
		r = gz
	}

	data, err := io.ReadAll(io.LimitReader(r, l.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", rel, err)
	}
	if int64(len(data)) > l.config.MaxBytes {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, rel)
	}

	page, err := decode(data, "")
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", rel, err)
	}
	page.URL = AssetURI(rel)
	page.Source = SourceAsset
	return page, nil
}

// Allowed reports whether the asset path rel matches an allow pattern.
func (l *Loader) Allowed(rel string) bool {
	for _, pattern := range l.config.AllowPatterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Assets lists the loadable assets under the asset root, sorted.
func (l *Loader) Assets(ctx context.Context) ([]string, error) {
	root := l.config.AssetRoot
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: asset root %s", ErrNotFound, root)
	}

	var (
		mu     sync.Mutex
		assets []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if l.Allowed(rel) {
			mu.Lock()
			assets = append(assets, rel)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	sort.Strings(assets)
	return assets, nil
}

// BreakerStates reports the breaker state per remote host seen so far.
func (l *Loader) BreakerStates() map[string]string {
	states := l.breakers.States()
	out := make(map[string]string, len(states))
	for host, state := range states {
		out[host] = state.String()
	}
	return out
}
