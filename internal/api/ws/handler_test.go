package ws

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/htmloverlay/internal/app"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/config"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
)

const padHTML = `<html><head><title>Pad</title></head>
<body><button id="go">Go</button></body></html>`

type streamFixture struct {
	host    *app.Host
	server  *httptest.Server
	metrics *monitoring.Metrics
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pad.html"), []byte(padHTML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "other.html"), []byte("<title>Other</title>"), 0o644))

	cfg := config.Default()
	cfg.Loader.AssetRoot = root
	cfg.Server.StartURL = "pad.html"

	logger := zaptest.NewLogger(t)
	metrics := monitoring.NewMetrics()
	host, err := app.New(cfg, logger, metrics)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, host.Start(context.Background()))
	require.NoError(t, host.Pages.WaitReady(ctx))

	router := gin.New()
	router.GET("/stream", NewHandler(host.Engine, host.Pages, logger).WithMetrics(metrics).HandleConnection)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		_ = host.Close()
	})
	return &streamFixture{host: host, server: server, metrics: metrics}
}

type frame map[string]interface{}

func (f *streamFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	hello := read(t, conn)
	require.Equal(t, "hello", hello["type"])
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msg Incoming) {
	t.Helper()
	data, err := sonic.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out frame
	require.NoError(t, sonic.Unmarshal(data, &out))
	return out
}

// readType skips frames until one of the given type arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for i := 0; i < 50; i++ {
		f := read(t, conn)
		if f["type"] == typ {
			return f
		}
	}
	t.Fatalf("no %s frame", typ)
	return nil
}

func TestHello(t *testing.T) {
	f := newStreamFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := read(t, conn)
	assert.Equal(t, "hello", hello["type"])
	assert.NotEmpty(t, hello["client_id"])
	page := hello["page"].(map[string]interface{})
	assert.Equal(t, "asset://pad.html", page["url"])
}

func TestEvalFrames(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	write(t, conn, Incoming{Type: "eval", Ref: "a", Script: "document.title"})
	result := readType(t, conn, "result")
	assert.Equal(t, "a", result["ref"])
	assert.Equal(t, "Pad", result["result"])

	write(t, conn, Incoming{Type: "eval", Ref: "b", Script: "null.x"})
	failed := readType(t, conn, "error")
	assert.Equal(t, "b", failed["ref"])
	assert.Equal(t, "script_error", failed["kind"])
	assert.EqualValues(t, 422, failed["status"])

	write(t, conn, Incoming{Type: "eval", Ref: "c"})
	empty := readType(t, conn, "error")
	assert.Equal(t, "c", empty["ref"])
	assert.Equal(t, "bad_request", empty["kind"])
}

func TestConcurrentEvalsAnsweredByRef(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	want := map[string]string{}
	for i := 0; i < 8; i++ {
		ref := string(rune('a' + i))
		want[ref] = ref + ref
		write(t, conn, Incoming{Type: "eval", Ref: ref, Script: `"` + ref + `".repeat(2)`})
	}

	got := map[string]string{}
	for len(got) < len(want) {
		res := readType(t, conn, "result")
		got[res["ref"].(string)] = res["result"].(string)
	}
	assert.Equal(t, want, got)
}

func TestPingAndUnknown(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	write(t, conn, Incoming{Type: "ping", Ref: "p"})
	pong := readType(t, conn, "pong")
	assert.Equal(t, "p", pong["ref"])

	write(t, conn, Incoming{Type: "dance"})
	failed := readType(t, conn, "error")
	assert.Equal(t, "unknown message type", failed["message"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	malformed := readType(t, conn, "error")
	assert.Equal(t, "malformed frame", malformed["message"])
}

func TestPageMessagesAndEvents(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	write(t, conn, Incoming{Type: "eval", Script: `Minko.sendMessage("menu:open"); "sent"`})
	msg := readType(t, conn, "message")
	assert.Equal(t, "menu:open", msg["data"])

	write(t, conn, Incoming{Type: "eval", Script: `Minko.dispatchEvent("score", JSON.stringify({type: "score"})); "ok"`})
	evt := readType(t, conn, "event")
	event := evt["event"].(map[string]interface{})
	assert.Equal(t, "score", event["type"])
}

func TestLoadPushesBridgeReady(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	write(t, conn, Incoming{Type: "load", Ref: "l", URL: "other.html"})
	loading := readType(t, conn, "loading")
	assert.Equal(t, "l", loading["ref"])

	// The start page's signal may still be in flight.
	for {
		ready := readType(t, conn, "bridge_ready")
		page := ready["page"].(map[string]interface{})
		if page["url"] == "asset://other.html" {
			assert.Equal(t, true, page["ready"])
			break
		}
	}

	write(t, conn, Incoming{Type: "load", Ref: "bad", URL: "gopher://x"})
	failed := readType(t, conn, "error")
	assert.Equal(t, "bad", failed["ref"])
}

func TestConnectionGauge(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WSConnections))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.WSConnections) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
