// Package firehose implements the resilient, cursor-resumable websocket
// transport (C1) that feeds decoded frames to the rest of the ingest
// pipeline.
package firehose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegis-proto/aegis/internal/metrics"
)

// Config configures a Transport's subscription.
type Config struct {
	// Primary and Secondary are equivalent firehose hosts (scheme+host,
	// no path); Transport fails over between them.
	Primary   string
	Secondary string

	Collections []string
	Compress    bool
}

// Handler processes one raw frame and reports the ingest drift it
// represents, in milliseconds. A returned error causes the frame to be
// logged and dropped; it does not tear down the connection.
type Handler func(ctx context.Context, frame []byte) (driftMs int64, err error)

// Transport owns the websocket connection lifecycle: dial, read loop,
// idle-timeout resume, exponential-backoff reconnect, and primary/secondary
// failover.
type Transport struct {
	log    *slog.Logger
	tracer trace.Tracer
	cfg    Config

	mu         sync.Mutex
	lastCursor string // last successfully processed event's time_us, as a string

	useSecondary atomic.Bool
}

// New builds a Transport. cursor is the initial resume point (microseconds
// since epoch as a string); empty means "start from now".
func New(log *slog.Logger, tracer trace.Tracer, cfg Config, cursor string) *Transport {
	return &Transport{
		log:        log.With(slog.String("component", "firehose")),
		tracer:     tracer,
		cfg:        cfg,
		lastCursor: cursor,
	}
}

// Failover switches the active endpoint, to take effect on the next
// reconnect. Called by the read loop when a single frame's drift is negative
// or exceeds 10s.
func (t *Transport) Failover() {
	was := t.useSecondary.Load()
	t.useSecondary.Store(!was)
	t.log.Warn("firehose failover triggered", "now_using_secondary", !was)
}

// Run subscribes to the firehose and invokes handle for every frame,
// reconnecting indefinitely on transport errors. It returns only when ctx
// is canceled.
func (t *Transport) Run(ctx context.Context, handle Handler) error {
	// transport errors are retried indefinitely; there is no consecutive
	// error cap here (unlike a typical reconnect loop) because the ingest
	// consumer must never terminate on transport errors.
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 10 * time.Second
	)

	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			t.log.Info("firehose consumer shutting down")
			return nil
		}

		err := t.runOnce(ctx, handle)
		if errors.Is(err, context.Canceled) {
			t.log.Info("firehose consumer shutting down")
			return nil
		}

		if err == nil {
			backoff = initialBackoff
			t.log.Info("firehose connection closed normally, reconnecting")
			continue
		}

		t.log.Error("firehose connection failed", "err", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func (t *Transport) runOnce(ctx context.Context, handle Handler) error {
	endpoint, dialURL, err := t.dialURL()
	if err != nil {
		return fmt.Errorf("build firehose dial url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose at %q: %w", endpoint, err)
	}
	defer conn.Close() //nolint:errcheck

	t.log.Info("connected to firehose", "endpoint", endpoint)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	const idleTimeout = 5 * time.Second

	for {
		if err := conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// no frame within idleTimeout: resume from the last
				// processed cursor rather than treating this as a failure.
				t.log.Debug("firehose idle timeout, resuming")
				return nil
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}

			return fmt.Errorf("read firehose frame: %w", err)
		}

		driftMs, herr := t.handleFrame(ctx, data, handle)
		if herr != nil {
			t.log.Warn("failed to handle firehose frame", "err", herr)
			continue
		}

		if driftMs < 0 || driftMs > 10_000 {
			t.log.Warn("frame drift out of range, triggering failover", "drift_ms", driftMs)
			t.Failover()
		}
	}
}

func (t *Transport) handleFrame(ctx context.Context, data []byte, handle Handler) (driftMs int64, err error) {
	ctx, span := t.tracer.Start(ctx, "firehose.handleFrame", trace.WithAttributes(
		attribute.Int("frame_len", len(data)),
	))
	start := time.Now()
	status := metrics.StatusError
	defer func() {
		metrics.IngestMessageDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		metrics.SpanEnd(span, err)
	}()

	driftMs, err = handle(ctx, data)
	if err != nil {
		return driftMs, err
	}

	status = metrics.StatusOK
	return driftMs, nil
}

// SetCursor records the timestamp of the most recently processed event, so
// the next reconnect resumes from there.
func (t *Transport) SetCursor(timeUs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastCursor = strconv.FormatInt(timeUs, 10)
}

func (t *Transport) dialURL() (endpoint, dialURL string, err error) {
	endpoint = t.cfg.Primary
	if t.useSecondary.Load() && t.cfg.Secondary != "" {
		endpoint = t.cfg.Secondary
	}
	if endpoint == "" {
		return "", "", errors.New("no firehose endpoint configured")
	}

	u, err := url.Parse(strings.TrimSuffix(endpoint, "/") + "/subscribe")
	if err != nil {
		return endpoint, "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}

	q := u.Query()
	for _, c := range t.cfg.Collections {
		q.Add("wantedCollections", c)
	}
	q.Set("compress", strconv.FormatBool(t.cfg.Compress))

	t.mu.Lock()
	cursor := t.lastCursor
	t.mu.Unlock()
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	u.RawQuery = q.Encode()
	return endpoint, u.String(), nil
}
