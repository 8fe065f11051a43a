// Package roll issues rate-limited roll actions for one identity and turns raw
// server responses into outcomes.
package roll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"worldroll.ai/internal/protocol"
)

// ErrSessionLost is returned once the live listener could not be reconnected
// MaxReconnectFailures times in a row.
var ErrSessionLost = errors.New("session lost")

// Executor submits actions on behalf of one identity.
type Executor interface {
	SubmitRoll(ctx context.Context, code string) (string, error)
}

// Reconnector re-establishes the identity's live connection.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error { return Sleep(ctx, d) }

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Config struct {
	Identity             string
	Interval             time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectFailures int
	Markers              protocol.Markers
}

type Roller struct {
	cfg      Config
	exec     Executor
	listener Reconnector
	clock    Clock
	logger   *log.Logger
	limiter  *rate.Limiter

	mu                sync.Mutex
	lastError         string
	reconnectFailures int
}

type Option func(*Roller)

func WithClock(c Clock) Option { return func(r *Roller) { r.clock = c } }

func WithLogger(l *log.Logger) Option { return func(r *Roller) { r.logger = l } }

func New(cfg Config, exec Executor, listener Reconnector, opts ...Option) *Roller {
	if cfg.Interval <= 0 {
		cfg.Interval = 1100 * time.Millisecond
	}
	if cfg.MaxReconnectFailures <= 0 {
		cfg.MaxReconnectFailures = 5
	}
	r := &Roller{
		cfg:      cfg,
		exec:     exec,
		listener: listener,
		clock:    realClock{},
		logger:   log.New(io.Discard, "", 0),
		limiter:  rate.NewLimiter(rate.Every(cfg.Interval), 1),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Roller) Identity() string { return r.cfg.Identity }

// ResetErrors forgets the last surfaced error so it is reported again.
func (r *Roller) ResetErrors() {
	r.mu.Lock()
	r.lastError = ""
	r.mu.Unlock()
}

// Roll waits for the rate limit and submits one roll. Concurrent calls on the
// same Roller are serialized.
func (r *Roller) Roll(ctx context.Context, code string) (protocol.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := otel.Tracer("worldroll.ai/internal/roll").Start(ctx, "roll")
	defer span.End()
	span.SetAttributes(attribute.String("territory", code), attribute.String("identity", r.cfg.Identity))

	// The reservation is never cancelled: an abandoned wait still consumes the
	// slot, so the next roll cannot come early.
	now := r.clock.Now()
	res := r.limiter.ReserveN(now, 1)
	if err := r.clock.Sleep(ctx, res.DelayFrom(now)); err != nil {
		return protocol.Outcome{}, err
	}

	// Once issued, a roll runs to completion even if ctx is cancelled.
	body, err := r.exec.SubmitRoll(context.WithoutCancel(ctx), code)
	// A roll that outlived the interval may have been retried by the transport
	// right before returning; the next one waits a full interval from here.
	if done := r.clock.Now(); r.limiter.TokensAt(done) >= 1 {
		r.limiter.ReserveN(done, 1)
	}
	if err != nil {
		if errors.Is(err, protocol.ErrSessionInvalid) {
			return protocol.Outcome{}, fmt.Errorf("roll %s: %w", code, err)
		}
		// Transport retries are exhausted; the next round tries again.
		r.logger.Printf("identity=%s roll %s: %v", r.cfg.Identity, code, err)
		return protocol.Outcome{Kind: protocol.Empty}, nil
	}
	out, class, err := protocol.Classify(body, r.cfg.Markers)
	if err != nil {
		r.logger.Printf("identity=%s roll %s: %v", r.cfg.Identity, code, err)
		return protocol.Outcome{Kind: protocol.Empty}, nil
	}
	span.SetAttributes(attribute.String("outcome", out.Kind.String()))

	switch class {
	case protocol.NoError:
		r.lastError = ""
		return out, nil
	case protocol.ErrorWait:
		return protocol.Outcome{Kind: protocol.Empty}, nil
	case protocol.ErrorAuth:
		if err := r.reconnect(ctx); err != nil {
			return protocol.Outcome{}, err
		}
		if err := r.clock.Sleep(ctx, r.cfg.ReconnectDelay); err != nil {
			return protocol.Outcome{}, err
		}
		return protocol.Outcome{Kind: protocol.Empty}, nil
	case protocol.ErrorOther:
		if out.Message == r.lastError {
			return protocol.Outcome{Kind: protocol.Empty}, nil
		}
		r.lastError = out.Message
		return out, nil
	default:
		panic(fmt.Sprintf("roll: unhandled error class %d", class))
	}
}

func (r *Roller) reconnect(ctx context.Context) error {
	if r.listener == nil {
		return nil
	}
	if err := r.listener.Reconnect(ctx); err != nil {
		r.reconnectFailures++
		r.logger.Printf("identity=%s reconnect failed (%d/%d): %v",
			r.cfg.Identity, r.reconnectFailures, r.cfg.MaxReconnectFailures, err)
		if r.reconnectFailures >= r.cfg.MaxReconnectFailures {
			return fmt.Errorf("identity %s: %w: %v", r.cfg.Identity, ErrSessionLost, err)
		}
		return nil
	}
	r.reconnectFailures = 0
	return nil
}
