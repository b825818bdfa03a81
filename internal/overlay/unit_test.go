package overlay

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/htmloverlay/internal/bridge"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
)

type mockSession struct {
	mock.Mock
	engine bridge.Engine
}

func (m *mockSession) Eval(ctx context.Context, script string) (string, error) {
	_, hasDeadline := ctx.Deadline()
	args := m.Called(script, hasDeadline)
	return args.String(0), args.Error(1)
}

func (m *mockSession) SetEngine(engine bridge.Engine) {
	m.engine = engine
}

type mockNavigator struct {
	mock.Mock
}

func (m *mockNavigator) LoadURL(uri string) error {
	return m.Called(uri).Error(0)
}

type staticPages struct {
	info bridge.PageInfo
}

func (p staticPages) Info() bridge.PageInfo {
	return p.info
}

func TestNewValidation(t *testing.T) {
	_, err := New(DefaultConfig(), nil, &mockNavigator{}, staticPages{}, nil)
	assert.Error(t, err)
}

func TestNewRegistersWithSession(t *testing.T) {
	session := &mockSession{}
	engine, err := New(Config{}, session, &mockNavigator{}, staticPages{}, nil)
	require.NoError(t, err)
	assert.Same(t, engine, session.engine)
	assert.Equal(t, DefaultConfig(), engine.config)
}

func TestEvalAddsDeadline(t *testing.T) {
	session := &mockSession{}
	session.On("Eval", "1+1", true).Return("2", nil)
	engine, err := New(DefaultConfig(), session, &mockNavigator{}, staticPages{}, nil)
	require.NoError(t, err)

	got, err := engine.Eval(context.Background(), "1+1")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
	session.AssertExpectations(t)
}

func TestLoadBeforeAndAfterStart(t *testing.T) {
	nav := &mockNavigator{}
	nav.On("LoadURL", "asset://second.html").Return(nil).Once()
	engine, err := New(DefaultConfig(), &mockSession{}, nav, staticPages{}, nil)
	require.NoError(t, err)

	require.NoError(t, engine.Load("asset://first.html"))
	require.NoError(t, engine.Load("asset://second.html"))
	nav.AssertNotCalled(t, "LoadURL", mock.Anything)

	require.NoError(t, engine.Start())
	nav.AssertExpectations(t)

	nav.On("LoadURL", "https://example.com/").Return(nil).Once()
	require.NoError(t, engine.Load("https://example.com/"))
	nav.AssertExpectations(t)
}

func TestUpdateDropsMalformedEvents(t *testing.T) {
	engine, err := New(DefaultConfig(), &mockSession{}, &mockNavigator{}, staticPages{}, nil)
	require.NoError(t, err)

	var got []Event
	engine.OnEvent(func(e Event) { got = append(got, e) })

	engine.NotifyIncomingEvent("Minko.element1", `{not json`)
	engine.NotifyIncomingEvent("Minko.element1", `{"type":"mousedown","clientX":3}`)
	engine.Update(context.Background())

	require.Len(t, got, 1)
	assert.Equal(t, Event{Type: "mousedown", Target: "Minko.element1", ClientX: 3}, got[0])
}

func TestLoadSignalCoalesces(t *testing.T) {
	pages := staticPages{info: bridge.PageInfo{URL: "asset://a.html", State: "ready", Ready: true}}
	engine, err := New(DefaultConfig(), &mockSession{}, &mockNavigator{}, pages, nil)
	require.NoError(t, err)

	var loads []Load
	engine.OnLoad(func(l Load) { loads = append(loads, l) })

	engine.Update(context.Background())
	assert.Empty(t, loads)

	engine.NotifyBridgeReady()
	engine.NotifyBridgeReady()
	engine.Update(context.Background())
	engine.Update(context.Background())
	require.Len(t, loads, 1)
	assert.Equal(t, "asset://a.html", loads[0].Page.URL)
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name     string
		accessor string
		payload  string
		want     Event
		wantErr  bool
	}{
		{
			name:     "full payload",
			accessor: "Minko.element0",
			payload:  `{"type":"touchstart","target":"Minko.element0","pageX":1.5,"screenY":2,"touches":[{"identifier":4,"clientX":9,"clientY":8}]}`,
			want: Event{
				Type: "touchstart", Target: "Minko.element0", PageX: 1.5, ScreenY: 2,
				Touches: []Touch{{Identifier: 4, ClientX: 9, ClientY: 8}},
			},
		},
		{
			name:     "target from accessor",
			accessor: "Minko.element2",
			payload:  `{"type":"click"}`,
			want:     Event{Type: "click", Target: "Minko.element2"},
		},
		{name: "missing type", accessor: "a", payload: `{"clientX":1}`, wantErr: true},
		{name: "not json", accessor: "a", payload: `click`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent(tt.accessor, tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListenersUnsubscribe(t *testing.T) {
	var l listeners[int]
	var got []int
	stopA := l.add(func(v int) { got = append(got, v) })
	l.add(func(v int) { got = append(got, v*10) })

	l.emit(1)
	stopA()
	stopA()
	l.emit(2)

	assert.Equal(t, []int{1, 10, 20}, got)
	assert.Equal(t, 1, l.len())
}

func TestQuoteEscapesLineSeparators(t *testing.T) {
	assert.Equal(t, `"a\u2028b"`, quote("a\u2028b"))
	assert.Equal(t, `"it's \"x\""`, quote(`it's "x"`))
	assert.Equal(t, `"a\u2028b"`, quote("a\u2028b"))
}

func TestNotificationQueuesAreBounded(t *testing.T) {
	metrics := monitoring.NewMetrics()
	engine, err := New(Config{QueueLimit: 3}, &mockSession{}, &mockNavigator{}, staticPages{}, nil)
	require.NoError(t, err)
	engine.WithMetrics(metrics)

	for i := 0; i < 5; i++ {
		engine.NotifyIncomingMessage(fmt.Sprintf("m%d", i))
		engine.NotifyIncomingEvent("Minko.element0", fmt.Sprintf(`{"type":"e%d"}`, i))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DroppedNotices.WithLabelValues("message")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DroppedNotices.WithLabelValues("event")))

	var messages, events []string
	engine.OnMessage(func(msg string) { messages = append(messages, msg) })
	engine.OnEvent(func(evt Event) { events = append(events, evt.Type) })
	engine.Update(context.Background())

	assert.Equal(t, []string{"m2", "m3", "m4"}, messages)
	assert.Equal(t, []string{"e2", "e3", "e4"}, events)
}
