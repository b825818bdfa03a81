package http

import (
	"context"
	"net/http"

	"github.com/GriffinCanCode/htmloverlay/internal/bridge"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/htmloverlay/internal/shared/id"
	"github.com/GriffinCanCode/htmloverlay/internal/webview"
)

// Engine is the overlay engine as seen by the API.
type Engine interface {
	Eval(ctx context.Context, script string) (string, error)
	Load(uri string) error
	Visible() bool
	SetVisible(visible bool)
}

// Pages reports page lifecycle state.
type Pages interface {
	Info() bridge.PageInfo
	WaitReady(ctx context.Context) error
}

// View exposes the web surface's state and input.
type View interface {
	Snapshot() webview.Snapshot
	DispatchEvent(selector string, evt webview.Event) error
}

// Assets lists loadable pages and loader health.
type Assets interface {
	Assets(ctx context.Context) ([]string, error)
	BreakerStates() map[string]string
}

// Session reports bridge session state.
type Session interface {
	ID() id.SessionID
	Pending() int
}

// Deps bundles what the handlers need.
type Deps struct {
	Engine   Engine
	Pages    Pages
	View     View
	Assets   Assets
	Session  Session
	Metrics  *monitoring.Metrics
	LogLevel http.Handler // Serves GET/PUT of the log level
}
