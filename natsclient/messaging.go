package natsclient

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/c360/devlink/errors"
)

// ErrorReplyPrefix starts the reply body of a request whose handler failed
const ErrorReplyPrefix = "error: "

// Publish sends data on subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// Subscribe calls handler for every message on subject. The subscription
// ends when ctx does. Each call gets a context bounded by the handler
// timeout.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	return c.subscribe(ctx, subject, func(msgCtx context.Context, msg *nats.Msg) {
		handler(msgCtx, msg.Data)
	})
}

// SubscribeRequest answers requests on subject with the handler's result.
// A handler error is sent back as ErrorReplyPrefix followed by its text.
func (c *Client) SubscribeRequest(
	ctx context.Context,
	subject string,
	handler func(context.Context, []byte) ([]byte, error),
) error {
	return c.subscribe(ctx, subject, func(msgCtx context.Context, msg *nats.Msg) {
		reply, err := handler(msgCtx, msg.Data)
		if err != nil {
			reply = []byte(ErrorReplyPrefix + err.Error())
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			c.logger.Warn("reply failed", "subject", subject, "error", err)
		}
	})
}

func (c *Client) subscribe(ctx context.Context, subject string, fn func(context.Context, *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
		fn(msgCtx, msg)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}
	context.AfterFunc(ctx, func() { _ = sub.Unsubscribe() })

	c.subs = append(c.subs, sub)
	return nil
}

// Request sends data to subject and returns the first reply
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	conn := c.connection()
	if conn == nil {
		return nil, ErrNotConnected
	}

	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Request", "request "+subject)
	}
	return msg.Data, nil
}
