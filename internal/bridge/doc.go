/*
Package bridge turns a web surface's asynchronous, UI-thread-only script
evaluation into a blocking call that any goroutine can make.

# Overview

A Session owns one surface. Eval allocates a request id, registers it in
the session's Registry, posts an execution task to the UI loop and waits
on the registry until the page reports back through the exposed bridge
object or the deadline passes. Results for ids that are no longer pending
are dropped and counted.

A Controller follows the surface's navigation. It installs the page-side
counterpart script once per page, tells the engine when the bridge is
ready and fails in-flight requests with ErrPageInvalidated when their page
goes away.

# Usage

	loop := looper.New("ui", logger)
	session, err := bridge.NewSession(view, loop, bridge.DefaultConfig(), logger)
	if err != nil {
		return err
	}
	controller := bridge.NewController(session)
	view.SetNavigationListener(controller)

	value, err := session.Eval(ctx, "document.title")
	switch {
	case errors.Is(err, bridge.ErrTimeout):
	case bridge.IsEvaluationError(err):
	}

# Page side

Page scripts reach the engine through the Minko object the counterpart
script installs:

	Minko.sendMessage("menu:open");
	Minko.addListener(button, "click", "Minko.element3");
*/
package bridge
