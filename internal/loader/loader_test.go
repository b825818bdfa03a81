package loader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/resilience"
)

func writeAsset(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}

func newTestLoader(t *testing.T, cfg Config) *Loader {
	t.Helper()
	l, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return l
}

func TestResolve(t *testing.T) {
	tests := []struct {
		uri     string
		kind    Kind
		target  string
		wantErr error
	}{
		{"https://example.com/a?b=1", KindRemote, "https://example.com/a?b=1", nil},
		{"HTTP://example.com", KindRemote, "HTTP://example.com", nil},
		{"about:blank", KindInline, "about:blank", nil},
		{"menu/index.html", KindAsset, "menu/index.html", nil},
		{"asset://menu/index.html#top", KindAsset, "menu/index.html", nil},
		{"/menu/./index.html?x=1", KindAsset, "menu/index.html", nil},
		{"../secret.html", 0, "", ErrNotAllowed},
		{"menu/../../secret.html", 0, "", ErrNotAllowed},
		{"ftp://example.com/x", 0, "", ErrBadURI},
		{"", 0, "", ErrBadURI},
		{"https://", 0, "", ErrBadURI},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			kind, target, err := Resolve(tt.uri)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			if tt.kind != KindRemote {
				assert.Equal(t, tt.target, target)
			}
		})
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(Config{AllowPatterns: []string{"[unclosed"}}, nil)
	assert.Error(t, err)
}

func TestFetchAsset(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "menu/index.html", []byte("<html><head><title>Menu</title></head><body>é</body></html>"))
	writeAsset(t, root, "secret.txt", []byte("nope"))

	metrics := monitoring.NewMetrics()
	l := newTestLoader(t, Config{AssetRoot: root}).WithMetrics(metrics)

	page, err := l.Fetch(context.Background(), "menu/index.html")
	require.NoError(t, err)
	assert.Equal(t, "asset://menu/index.html", page.URL)
	assert.Equal(t, SourceAsset, page.Source)
	assert.Equal(t, "text/html", page.ContentType)
	assert.Equal(t, "utf-8", page.Charset)
	assert.Contains(t, page.HTML, "<title>Menu</title>")
	assert.Contains(t, page.HTML, "é")
	assert.False(t, page.FetchedAt.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PageLoads.WithLabelValues("asset", "ok")))

	_, err = l.Fetch(context.Background(), "secret.txt")
	assert.ErrorIs(t, err, ErrNotAllowed)

	_, err = l.Fetch(context.Background(), "missing.html")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Fetch(context.Background(), "../outside.html")
	assert.ErrorIs(t, err, ErrNotAllowed)
	// Paths rejected during resolution never reach a source.
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PageLoads.WithLabelValues("asset", "error")))
}

func TestFetchCompressedAsset(t *testing.T) {
	root := t.TempDir()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("<html><body><div id='hud'>ok</div></body></html>"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	writeAsset(t, root, "hud.html.gz", buf.Bytes())

	l := newTestLoader(t, Config{AssetRoot: root})
	page, err := l.Fetch(context.Background(), "asset://hud.html.gz")
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "<div id='hud'>ok</div>")
}

func TestFetchRejectsBinaryAndLarge(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "image.html", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'})
	writeAsset(t, root, "big.html", bytes.Repeat([]byte("<p>x</p>"), 100))

	l := newTestLoader(t, Config{AssetRoot: root, MaxBytes: 256})

	_, err := l.Fetch(context.Background(), "image.html")
	assert.ErrorIs(t, err, ErrNotText)

	_, err = l.Fetch(context.Background(), "big.html")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetchLatin1AssetIsTranscoded(t *testing.T) {
	root := t.TempDir()
	// "Le café est très apprécié à Paris" in ISO-8859-1.
	latin1 := []byte("<html><body><p>Le caf\xe9 est tr\xe8s appr\xe9ci\xe9 \xe0 Paris. " +
		"Les cr\xeapes sont d\xe9licieuses et le th\xe9\xe2tre est pr\xe8s de la gare.</p></body></html>")
	writeAsset(t, root, "fr.html", latin1)

	l := newTestLoader(t, Config{AssetRoot: root})
	page, err := l.Fetch(context.Background(), "fr.html")
	require.NoError(t, err)

	assert.NotEqual(t, "utf-8", page.Charset)
	assert.Contains(t, page.HTML, "café")
	assert.Contains(t, page.HTML, "très")
}

func TestFetchBlank(t *testing.T) {
	l := newTestLoader(t, Config{AssetRoot: t.TempDir()})

	page, err := l.Fetch(context.Background(), "about:blank")
	require.NoError(t, err)
	assert.Equal(t, SourceInline, page.Source)
	assert.Contains(t, page.HTML, "<body>")
}

func TestFetchRemote(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><head><title>Remote</title></head><body><script>evil()</script><b>hi</b></body></html>"))
		case "/latin1":
			w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
			_, _ = w.Write([]byte("<html><body>caf\xe9</body></html>"))
		case "/redirect":
			http.Redirect(w, r, "/page", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := newTestLoader(t, Config{AssetRoot: t.TempDir(), UserAgent: "test-agent"})
	ctx := context.Background()

	page, err := l.Fetch(ctx, srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, page.Source)
	assert.Contains(t, page.HTML, "<title>Remote</title>")
	assert.Equal(t, "test-agent", agent.Load())

	page, err = l.Fetch(ctx, srv.URL+"/latin1")
	require.NoError(t, err)
	assert.Equal(t, "iso-8859-1", page.Charset)
	assert.Contains(t, page.HTML, "café")

	page, err = l.Fetch(ctx, srv.URL+"/redirect")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/page", page.URL)

	_, err = l.Fetch(ctx, srv.URL+"/missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.False(t, statusErr.Temporary())
}

func TestFetchRemoteSanitized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<div><script>evil()</script><a href="javascript:evil()" onclick="evil()">x</a><b>kept</b></div>`))
	}))
	defer srv.Close()

	l := newTestLoader(t, Config{AssetRoot: t.TempDir(), SanitizeRemote: true})
	page, err := l.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.NotContains(t, page.HTML, "<script")
	assert.NotContains(t, page.HTML, "onclick")
	assert.NotContains(t, page.HTML, "javascript:")
	assert.Contains(t, page.HTML, "<b>kept</b>")
}

func TestFetchRemoteBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	l := newTestLoader(t, Config{AssetRoot: t.TempDir(), RetryCount: 0, FetchTimeout: time.Second})
	l.WithBreakers(resilience.NewGroup(resilience.Settings{
		Timeout: time.Minute,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
		IsSuccessful: breakerSettings(l.logger).IsSuccessful,
	}))

	for i := 0; i < 2; i++ {
		_, err := l.Fetch(context.Background(), srv.URL)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.True(t, statusErr.Temporary())
	}

	_, err := l.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())

	states := l.BreakerStates()
	assert.Len(t, states, 1)
	for _, state := range states {
		assert.Equal(t, "open", state)
	}
}

func TestAssets(t *testing.T) {
	root := t.TempDir()
	writeAsset(t, root, "index.html", []byte("<p>1</p>"))
	writeAsset(t, root, "menu/options.html", []byte("<p>2</p>"))
	writeAsset(t, root, "menu/deep/hud.html.gz", []byte("gz"))
	writeAsset(t, root, "style.css", []byte("p{}"))

	l := newTestLoader(t, Config{AssetRoot: root})

	assets, err := l.Assets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html", "menu/deep/hud.html.gz", "menu/options.html"}, assets)

	l = newTestLoader(t, Config{AssetRoot: filepath.Join(root, "missing")})
	_, err = l.Assets(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}
