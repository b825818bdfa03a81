/*
Package webview provides a headless web surface for the overlay bridge.

# Overview

A View holds one page at a time. Each navigation fetches the document
through a Fetcher, parses it with goquery and gives it a fresh goja
runtime exposing a small browser API:

  - document: getElementById, querySelector(All), getElementsByTagName,
    getElementsByClassName, evaluateXPath, createElement, title, body
  - elements: live proxies with attributes, text, innerHTML, style,
    child manipulation and event listeners with bubbling
  - console, setTimeout/setInterval, location, navigator

Node.js globals (require, process, module, exports) are removed.

# Threading

Navigation, evaluation and event dispatch run on the UI loop passed to New.
Fetching runs on its own goroutine and is cancelled when a newer navigation
starts. Timers post their callbacks back to the loop and die with their page.

Every script run, timer and listener callback is bounded by
Config.ScriptTimeout through goja's interrupt mechanism.

# Bridge

View implements bridge.Surface. Objects passed to ExposeBridgeObject are
bound in the current page and rebound in every page loaded afterwards, before
that page's own scripts run.

	view, _ := webview.New(loop, pageLoader, webview.DefaultConfig(), logger)
	session, _ := bridge.NewSession(view, loop, bridge.DefaultConfig(), logger)
	view.SetNavigationListener(bridge.NewController(session))
	_ = view.LoadURL("asset://menu/index.html")
*/
package webview
