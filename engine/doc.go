// Package engine implements managed connections: one supervisor per peer that
// connects a Transport, frames its byte stream into messages, pairs inbound
// frames with outstanding requests and reconnects with backoff when the
// session fails.
//
// # Lifecycle
//
// A Connection is built configured but idle. Start schedules the first
// connect after a random kickoff of one to six seconds so that many
// connections created together do not dial at once. From then on the
// supervisor loops:
//
//	Stopped -> Starting -> Connected -> BackingOff -> Starting -> ...
//
// Close moves any state to ShuttingDown, which is terminal. Drop closes the
// live transport only, and the supervisor reconnects after the minimum gap.
//
// # Framing
//
// Frames are Go strings carrying the bytes received. The decoding mode is
// derived from the options:
//
//   - BinaryStartStopFlags set: length-delimited binary with a start flag,
//     a two byte big-endian length and an optional stop flag
//   - ReceiveDelimiters empty: every read is one frame
//   - otherwise: frames end at any receive delimiter byte and are trimmed
//
// Datagram transports always deliver one frame per packet.
//
// # Requests
//
// Send, Request and Receive all pass through the RequestQueue, which keeps at
// most one request active. The next decoded frame resolves the active
// request, and every frame is also delivered to the Received handler.
//
// # Callbacks
//
// Handlers run through a Dispatcher that first invokes the ThreadState hook
// and recovers panics, reporting them to CallbackError with a context tag
// such as "tcp", "process" or "timer".
package engine
