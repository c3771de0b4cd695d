package testutil

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/natsclient"
)

// ErrNoResponders is returned by Request when nothing serves the subject
var ErrNoResponders = stderrors.New("no responders available for request")

type mockSub struct {
	ctx     context.Context
	handler func(context.Context, []byte)
}

type mockResponder struct {
	ctx     context.Context
	handler func(context.Context, []byte) ([]byte, error)
}

// MockNATSClient is an in-memory stand-in for natsclient.Client. Published
// messages are recorded per subject and delivered synchronously to live
// subscribers. Like the real client, a subscription ends with its context.
type MockNATSClient struct {
	mu         sync.Mutex
	published  map[string][][]byte
	subs       map[string][]mockSub
	responders map[string]mockResponder
	closed     bool
}

// NewMockNATSClient returns an empty mock
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		published:  make(map[string][][]byte),
		subs:       make(map[string][]mockSub),
		responders: make(map[string]mockResponder),
	}
}

// Publish records data and hands it to the subscribers of subject
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return natsclient.ErrNotConnected
	}
	c.published[subject] = append(c.published[subject], append([]byte(nil), data...))
	subs := append([]mockSub(nil), c.subs[subject]...)
	c.mu.Unlock()

	for _, s := range subs {
		if s.ctx.Err() != nil {
			continue
		}
		s.handler(ctx, data)
	}
	return nil
}

// Subscribe registers handler for subject until ctx ends
func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return natsclient.ErrNotConnected
	}
	c.subs[subject] = append(c.subs[subject], mockSub{ctx: ctx, handler: handler})
	return nil
}

// SubscribeRequest makes handler the responder for subject until ctx ends.
// A later call replaces it.
func (c *MockNATSClient) SubscribeRequest(
	ctx context.Context,
	subject string,
	handler func(context.Context, []byte) ([]byte, error),
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return natsclient.ErrNotConnected
	}
	c.responders[subject] = mockResponder{ctx: ctx, handler: handler}
	return nil
}

// Request runs the responder of subject. A responder error comes back as
// a reply carrying natsclient.ErrorReplyPrefix.
func (c *MockNATSClient) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	r, ok := c.responders[subject]
	c.mu.Unlock()

	if closed {
		return nil, natsclient.ErrNotConnected
	}
	if !ok || r.ctx.Err() != nil {
		return nil, ErrNoResponders
	}

	reply, err := r.handler(ctx, data)
	if err != nil {
		return []byte(natsclient.ErrorReplyPrefix + err.Error()), nil
	}
	return reply, nil
}

// Close makes every later call fail with natsclient.ErrNotConnected
func (c *MockNATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// GetMessages returns a copy of what was published on subject
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.published[subject]...)
}

// GetStrings is GetMessages as strings
func (c *MockNATSClient) GetStrings(subject string) []string {
	var out []string
	for _, msg := range c.GetMessages(subject) {
		out = append(out, string(msg))
	}
	return out
}

// WaitForMessage waits for a publication on subject and returns the latest
func WaitForMessage(t testing.TB, client *MockNATSClient, subject string, timeout time.Duration) []byte {
	t.Helper()
	WaitForMessageCount(t, client, subject, 1, timeout)
	msgs := client.GetMessages(subject)
	return msgs[len(msgs)-1]
}

// WaitForMessageCount waits until subject has at least count publications
func WaitForMessageCount(t testing.TB, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(client.GetMessages(subject)) >= count
	}, timeout, 5*time.Millisecond, "waiting for %d messages on %s", count, subject)
}

// AssertNoMessages fails if anything was published on subject
func AssertNoMessages(t testing.TB, client *MockNATSClient, subject string) {
	t.Helper()
	require.Empty(t, client.GetMessages(subject), "messages on %s", subject)
}
