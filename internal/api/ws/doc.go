// Package ws serves the overlay stream: a WebSocket that pushes page loads,
// page messages and forwarded DOM events, and answers eval requests.
//
// Client frames:
//
//	{"type":"eval","ref":"1","script":"document.title"}
//	{"type":"load","ref":"2","url":"menus/main.html"}
//	{"type":"ping"}
//
// Server frames carry a type of hello, bridge_ready, message, event,
// result, loading, pong or error. Replies echo the request's ref.
package ws
