/*
Package overlay is the native side of an HTML overlay.

An Engine wraps a bridge session and gives the host application an
instance-scoped DOM API. Elements are reached through accessors of the form
Minko.element<N> stored on the page's Minko object, so every Element call is a
single script evaluation through the bridge.

Page notifications (bridge ready, messages, DOM events) arrive on the UI loop
and are queued. The host calls Update from its frame loop, or runs Run, to
deliver them:

	engine, _ := overlay.New(overlay.DefaultConfig(), session, view, controller, logger)
	engine.OnLoad(func(l overlay.Load) { log.Println("loaded", l.Page.URL) })
	engine.OnMessage(func(msg string) { log.Println("page says", msg) })
	_ = engine.Load("asset://menu/index.html")
	_ = engine.Start()
	go engine.Run(ctx)
*/
package overlay
