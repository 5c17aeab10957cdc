// Package transport streams a profiling session's observer events
// (metric/log/error) to a remote perfcollect server over gRPC, modeled on
// the TripWire agent's internal/transport/grpctransport.go: mTLS dialing,
// a buffered non-blocking send queue, and automatic reconnection with
// github.com/cenkalti/backoff/v4 exponential backoff.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/elus10n/profiler/proto/profilerpb"
)

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 2 * time.Minute
	defaultDialTimeout    = 10 * time.Second
	eventQueueCapacity    = 256
)

// Config configures a Client.
type Config struct {
	// CollectorAddr is the "host:port" of the perfcollect gRPC endpoint.
	// Required.
	CollectorAddr string

	// Insecure disables TLS (local development / tests only).
	Insecure bool

	// CertPath, KeyPath, CAPath are the mTLS material used when Insecure
	// is false.
	CertPath string
	KeyPath  string
	CAPath   string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DialTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
}

func (c *Config) loadCredentials() (credentials.TransportCredentials, error) {
	if c.Insecure {
		return insecure.NewCredentials(), nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("transport: load client keypair: %w", err)
	}
	caCert, err := os.ReadFile(c.CAPath)
	if err != nil {
		return nil, fmt.Errorf("transport: read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("transport: no valid certificates found in %q", c.CAPath)
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Client streams events for one profiling session to a collector.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	sessionID string
	metrics   *Metrics

	creds credentials.TransportCredentials

	events chan *structpb.Struct

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Client. If logger is nil, slog.Default() is used.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		logger:    logger,
		sessionID: uuid.NewString(),
		metrics:   NewMetrics(),
		events:    make(chan *structpb.Struct, eventQueueCapacity),
	}
}

// SessionID returns the UUID this client tags every event with.
func (c *Client) SessionID() string { return c.sessionID }

// Metrics returns the Prometheus metric counters for this client.
func (c *Client) Metrics() *Metrics { return c.metrics }

// Start loads credentials and launches the background connect loop. It
// returns once credentials are loaded; the first dial happens
// asynchronously so Start never blocks on network I/O.
func (c *Client) Start(ctx context.Context) error {
	creds, err := c.cfg.loadCredentials()
	if err != nil {
		return err
	}
	c.creds = creds

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.connectLoop(ctx)
	return nil
}

// Stop cancels the connect loop and waits for it to exit.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Send enqueues an event for delivery. It never blocks: if the queue is
// full the event is dropped and logged, matching the non-blocking-send
// discipline used throughout the corpus for fan-out channels.
func (c *Client) Send(kind profilerpb.EventKind, pid int32, fields map[string]any) {
	env, err := profilerpb.NewEventEnvelope(kind, c.sessionID, pid, fields)
	if err != nil {
		c.logger.Warn("failed to build event envelope", "kind", kind, "err", err)
		return
	}
	select {
	case c.events <- env:
	default:
		c.logger.Warn("event queue full, dropping event", "kind", kind)
	}
}

// connectLoop dials the collector, drains the event queue into the stream,
// and reconnects with exponential backoff whenever the stream breaks.
func (c *Client) connectLoop(ctx context.Context) {
	defer c.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // retry forever until ctx is cancelled

	for {
		if ctx.Err() != nil {
			return
		}

		c.metrics.ConnectionAttempts.Add(1)
		if err := c.runConnection(ctx); err != nil {
			c.metrics.ConnectionErrors.Add(1)
			wait := bo.NextBackOff()
			c.logger.Warn("collector connection lost, reconnecting", "err", err, "wait", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
	}
}

// runConnection dials once, streams events until ctx is cancelled or a
// send/close error occurs, and reports that error to the caller for
// backoff purposes. A nil return means ctx was cancelled deliberately.
func (c *Client) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, c.cfg.CollectorAddr,
		grpc.WithTransportCredentials(c.creds),
		grpc.WithBlock(),
	)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.CollectorAddr, err)
	}
	defer conn.Close()

	client := profilerpb.NewCollectorClient(conn)
	stream, err := client.StreamEvents(ctx)
	if err != nil {
		return fmt.Errorf("open StreamEvents: %w", err)
	}

	c.metrics.Connected.Store(1)
	defer c.metrics.Connected.Store(0)

	for {
		select {
		case <-ctx.Done():
			_, _ = stream.CloseAndRecv()
			return nil
		case ev := <-c.events:
			if err := stream.Send(ev); err != nil {
				c.metrics.StreamSendErrors.Add(1)
				return fmt.Errorf("stream send: %w", err)
			}
			c.metrics.EventsSent.Add(1)
		}
	}
}
