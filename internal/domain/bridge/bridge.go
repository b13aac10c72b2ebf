package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/process"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/session"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/infrastructure/tracing"
)

// ErrStreamClosed is returned by a Conn whose peer closed the connection.
// It ends a bridge normally.
var ErrStreamClosed = errors.New("stream closed")

// WebSocket close codes used when a bridge ends
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseInternalError = 1011
)

// Conn is a message-oriented duplex connection to a remote client.
type Conn interface {
	// Receive blocks for the next message. It returns ErrStreamClosed once
	// the peer has closed, and ctx.Err() when ctx ends first.
	Receive(ctx context.Context) ([]byte, error)
	// Send delivers one message
	Send(ctx context.Context, p []byte) error
	// Close ends the connection, unblocking any pending Receive
	Close(code int, reason string) error
}

// EndReason says which side ended a bridge
type EndReason string

const (
	EndClientClosed  EndReason = "client_closed"
	EndProcessClosed EndReason = "process_closed"
	EndCancelled     EndReason = "cancelled"
	EndFailed        EndReason = "failed"
)

// Result summarises a finished bridge
type Result struct {
	Reason   EndReason
	BytesIn  int64
	BytesOut int64
	Duration time.Duration
	// Err is the relay failure when Reason is EndFailed
	Err error
}

// Metrics receives bridge events. *monitoring.Metrics implements it.
type Metrics interface {
	BridgeStarted(kind string)
	BridgeFinished(kind, reason string, duration time.Duration)
	AddBytes(kind, direction string, n int)
}

// Option configures a Bridge
type Option func(*Bridge)

// WithMetrics reports bridge activity
func WithMetrics(m Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// Bridge relays bytes between connections and session processes.
type Bridge struct {
	registry *session.Registry
	logger   *zap.Logger
	metrics  Metrics
}

// New creates a bridge that disposes of ephemeral sessions via registry
func New(registry *session.Registry, logger *zap.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		registry: registry,
		logger:   logger.Named("bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// direction labels used for byte counters
const (
	inbound  = "inbound"
	outbound = "outbound"
)

// Run attaches conn to sess and relays in both directions until either
// side ends, then closes conn. Ephemeral sessions are terminated; persistent
// ones are only detached. An error means the session could not be attached
// and nothing was relayed; relay failures are reported in Result.
func (b *Bridge) Run(ctx context.Context, conn Conn, sess *session.Session) (Result, error) {
	att, err := sess.Attach()
	if err != nil {
		return Result{}, err
	}

	logger := b.logger.With(
		zap.String("session", sess.ID()),
		zap.String("name", sess.Name()),
		zap.String("kind", string(sess.Kind())),
	)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		logger = logger.With(zap.String("trace_id", string(traceID)))
	}

	start := time.Now()
	if b.metrics != nil {
		b.metrics.BridgeStarted(sess.Name())
	}
	logger.Debug("bridge attached")

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		bytesIn, bytesOut atomic.Int64
		endOnce           sync.Once
		result            Result
	)

	// The first direction to finish decides the outcome and closes the
	// connection, which unblocks the other direction's Receive.
	finish := func(reason EndReason, err error) {
		endOnce.Do(func() {
			code := CloseNormal
			switch {
			case ctx.Err() != nil:
				reason, code = EndCancelled, CloseGoingAway
			case !isNormal(err):
				reason, code = EndFailed, CloseInternalError
				result.Err = err
			}
			result.Reason = reason
			cancel()
			_ = conn.Close(code, string(reason))
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		err := b.relayInbound(relayCtx, conn, sess, &bytesIn)
		reason := EndClientClosed
		if errors.Is(err, process.ErrExited) {
			// Input failed because the process is gone, not the client
			reason = EndProcessClosed
		}
		finish(reason, err)
		return nil
	})
	g.Go(func() error {
		err := b.relayOutbound(relayCtx, conn, att, &bytesOut)
		finish(EndProcessClosed, err)
		return nil
	})
	_ = g.Wait()

	att.Detach()
	if sess.Kind() == session.KindEphemeral {
		b.registry.Release(sess)
	}

	result.BytesIn = bytesIn.Load()
	result.BytesOut = bytesOut.Load()
	result.Duration = time.Since(start)

	if b.metrics != nil {
		b.metrics.BridgeFinished(sess.Name(), string(result.Reason), result.Duration)
	}

	fields := []zap.Field{
		zap.String("reason", string(result.Reason)),
		zap.Int64("bytes_in", result.BytesIn),
		zap.Int64("bytes_out", result.BytesOut),
		zap.Duration("duration", result.Duration),
	}
	if result.Err != nil {
		logger.Warn("bridge failed", append(fields, zap.Error(result.Err))...)
	} else {
		logger.Debug("bridge detached", fields...)
	}
	return result, nil
}

// relayInbound copies client messages to the process input.
func (b *Bridge) relayInbound(ctx context.Context, conn Conn, sess *session.Session, count *atomic.Int64) error {
	for {
		p, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		if len(p) == 0 {
			continue
		}

		n, err := sess.WriteInput(ctx, p)
		if err != nil {
			return err
		}
		count.Add(int64(n))
		b.addBytes(sess, inbound, n)
		sess.Touch()
	}
}

// relayOutbound copies process output chunks to the client.
func (b *Bridge) relayOutbound(ctx context.Context, conn Conn, att *session.Attachment, count *atomic.Int64) error {
	sess := att.Session()
	for {
		p, err := att.Next(ctx)
		if err != nil {
			return err
		}

		if err := conn.Send(ctx, p); err != nil {
			return err
		}
		count.Add(int64(len(p)))
		b.addBytes(sess, outbound, len(p))
		sess.Touch()
	}
}

func (b *Bridge) addBytes(sess *session.Session, direction string, n int) {
	if b.metrics != nil {
		b.metrics.AddBytes(sess.Name(), direction, n)
	}
}

// isNormal reports whether err is an orderly end of either stream
func isNormal(err error) bool {
	return err == nil ||
		errors.Is(err, ErrStreamClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, process.ErrExited) ||
		errors.Is(err, context.Canceled)
}
