package bridge

// Surface is the embedded web-content component. Both methods must only be
// called from the UI loop.
type Surface interface {
	// Evaluate runs script asynchronously. done fires later on the UI loop
	// with the script's completion value or the error that stopped it.
	Evaluate(script string, done func(value string, err error))
	// ExposeBridgeObject makes obj reachable from page scripts under name.
	ExposeBridgeObject(name string, obj BridgeObject) error
}

// BridgeObject receives calls made by page scripts. The surface invokes these
// methods on the UI loop.
type BridgeObject interface {
	OnResult(id int64, result string)
	OnError(id int64, message string)
	OnMessage(payload string)
	OnEvent(accessor string, payload string)
}

// NavigationListener receives page lifecycle signals from a surface. A surface
// may report a finished navigation more than once.
type NavigationListener interface {
	OnNavigationStarted(url string)
	OnNavigationFinished(url string)
	OnNavigationFailed(url string, err error)
}

// Dispatcher schedules work on the UI loop.
type Dispatcher interface {
	Post(task func()) error
}

// Engine is the native side consuming bridge notifications.
type Engine interface {
	NotifyBridgeReady()
	NotifyIncomingMessage(payload string)
}

// EventReceiver is implemented by engines that also want DOM events pushed
// from the page.
type EventReceiver interface {
	NotifyIncomingEvent(accessor string, payload string)
}
