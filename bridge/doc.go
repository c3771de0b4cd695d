// Package bridge exposes managed connections on NATS.
//
// For a connection named plc under the prefix devlink:
//
//	devlink.plc.rx      received frames, published as raw bytes
//	devlink.plc.stderr  process stderr frames
//	devlink.plc.events  lifecycle and sent events as JSON manager.Event
//	devlink.plc.tx      subscribed; each message is queued with Send
//	devlink.plc.req     request/reply; the body is sent and the paired
//	                    response frame is the reply. An empty body waits
//	                    for the next frame.
//	devlink.status      request/reply; JSON array of connection statuses
//
// Failed requests reply with "error: <message>".
package bridge
