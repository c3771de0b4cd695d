// Package websocket is a WebSocket tap on managed connections.
//
// Clients connect to the configured path. With ?connection=<name> a client
// sees only that connection's events and every text message it sends is
// queued on the connection with Send. Without it the client sees every
// event and sends JSON commands:
//
//	{"connection": "projector", "data": "%1POWR 1"}
//
// Events are JSON-encoded manager.Event values. A client that falls behind
// loses events rather than slowing the connection down.
package websocket
