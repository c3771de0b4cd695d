package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultTestImage is the NATS server image StartTestServer runs
const DefaultTestImage = "nats:2.11.7-alpine"

// TestServer is a NATS server in a container together with a Client
// connected to it
type TestServer struct {
	Client *Client
	URL    string

	container testcontainers.Container
}

type testServerConfig struct {
	image        string
	startTimeout time.Duration
	clientOpts   []ClientOption
}

// TestServerOption configures StartTestServer
type TestServerOption func(*testServerConfig)

// WithImage runs a different NATS server image
func WithImage(image string) TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.image = image
	}
}

// WithStartTimeout bounds how long the container may take to become ready
func WithStartTimeout(d time.Duration) TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.startTimeout = d
	}
}

// WithClientOptions adds options to the connected client
func WithClientOptions(opts ...ClientOption) TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// StartTestServer starts a NATS container, connects a client to it and
// registers cleanup of both. It fails the test when Docker is unavailable.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()

	cfg := &testServerConfig{
		image:        DefaultTestImage,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ts, err := runTestServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start NATS test server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = ts.Client.Close(ctx)
		_ = ts.container.Terminate(ctx)
	})
	return ts
}

func runTestServer(ctx context.Context, cfg *testServerConfig) (*TestServer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        cfg.image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--port", "4222", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp"),
			).WithDeadline(cfg.startTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	url, err := containerURL(ctx, container)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	clientOpts := append([]ClientOption{
		WithTimeout(2 * time.Second),
		WithMaxReconnects(0),
		WithHealthInterval(0),
		WithDrainTimeout(2 * time.Second),
	}, cfg.clientOpts...)
	client, err := NewClient(url, clientOpts...)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}

	return &TestServer{Client: client, URL: url, container: container}, nil
}

func containerURL(ctx context.Context, container testcontainers.Container) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		return "", fmt.Errorf("container port: %w", err)
	}
	return fmt.Sprintf("nats://%s:%s", host, port.Port()), nil
}
