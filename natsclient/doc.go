// Package natsclient is the NATS connection behind the devlink bridge.
//
// Connect dials once and is guarded by a circuit breaker: after
// WithCircuitBreakerThreshold consecutive failures it refuses attempts with
// ErrCircuitOpen for a backoff that doubles on every opening, capped by
// WithMaxBackoff. A successful connect or reconnect closes it again.
// Startup code retries Connect and stops on ErrCircuitOpen.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.SubscribeRequest(ctx, "devlink.projector.req",
//	    func(ctx context.Context, data []byte) ([]byte, error) {
//	        return answer(ctx, data)
//	    })
//
// Subscriptions end with the context they were created with. Request
// handlers that fail answer with ErrorReplyPrefix and the error text.
//
// StartTestServer runs a NATS server in a container for tests carrying the
// integration build tag.
package natsclient
