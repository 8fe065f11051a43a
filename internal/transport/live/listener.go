// Package live follows the game's push socket and folds its messages into the
// world store.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"worldroll.ai/internal/protocol"
	"worldroll.ai/internal/world"
)

var ErrClosed = errors.New("listener closed")

type Config struct {
	Identity string
	URL      string
	Cookies  []*http.Cookie
	Header   http.Header
}

// Listener owns at most one live connection. Every connection runs under its
// own context and generation; Reconnect retires the previous one so a stale
// reader can never publish.
type Listener struct {
	cfg    Config
	store  *world.Store
	logger *log.Logger
	dialer websocket.Dialer

	mu        sync.RWMutex
	gen       uint64
	cancel    context.CancelFunc
	connected bool
	lastErr   string
	closed    bool

	wg sync.WaitGroup
}

type Option func(*Listener)

func WithLogger(l *log.Logger) Option { return func(ln *Listener) { ln.logger = l } }

func New(cfg Config, store *world.Store, opts ...Option) *Listener {
	l := &Listener{
		cfg:    cfg,
		store:  store,
		logger: log.New(io.Discard, "", 0),
		dialer: websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

type Status struct {
	Connected  bool
	Generation uint64
	LastError  string
}

func (l *Listener) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Status{Connected: l.connected, Generation: l.gen, LastError: l.lastErr}
}

// Reconnect dials a fresh connection and retires the previous one. The new
// reader keeps redialing with capped backoff until it is retired or ctx ends.
func (l *Listener) Reconnect(ctx context.Context) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	conn, err := l.dial(ctx)
	if err != nil {
		l.mu.Lock()
		l.lastErr = err.Error()
		l.mu.Unlock()
		return err
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrClosed
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	gen := l.gen
	l.cancel = cancel
	l.connected = true
	l.lastErr = ""
	l.mu.Unlock()

	l.logger.Printf("identity=%s live connected gen=%d", l.cfg.Identity, gen)
	l.wg.Add(1)
	go l.run(connCtx, gen, conn)
	return nil
}

// Close retires the current connection and waits for its reader to exit.
func (l *Listener) Close() {
	l.mu.Lock()
	l.closed = true
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.connected = false
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Listener) dial(ctx context.Context) (*websocket.Conn, error) {
	h := http.Header{}
	for k, vs := range l.cfg.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for _, c := range l.cfg.Cookies {
		h.Add("Cookie", (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	conn, resp, err := l.dialer.DialContext(ctx, l.cfg.URL, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (l *Listener) current(gen uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gen == gen && !l.closed
}

func (l *Listener) run(ctx context.Context, gen uint64, conn *websocket.Conn) {
	defer l.wg.Done()

	backoff := 200 * time.Millisecond
	for {
		err := l.readLoop(ctx, gen, conn)
		if ctx.Err() != nil || !l.current(gen) {
			return
		}
		l.mu.Lock()
		if l.gen == gen {
			l.connected = false
			l.lastErr = err.Error()
		}
		l.mu.Unlock()
		l.logger.Printf("identity=%s live gen=%d dropped: %v", l.cfg.Identity, gen, err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
				if backoff > 5*time.Second {
					backoff = 5 * time.Second
				}
			}
			conn, err = l.dial(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
		}
		l.mu.Lock()
		if l.gen == gen {
			l.connected = true
			l.lastErr = ""
		}
		l.mu.Unlock()
		backoff = 200 * time.Millisecond
	}
}

func (l *Listener) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		d, ok := decodeDelta(msg)
		if !ok {
			continue
		}
		// Holding the read lock keeps Reconnect from retiring this generation
		// between the check and the publish.
		l.mu.RLock()
		if ctx.Err() == nil && l.gen == gen && !l.closed {
			l.store.Apply(d)
		}
		l.mu.RUnlock()
	}
}

func decodeDelta(msg []byte) (world.Delta, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return world.Delta{}, false
	}
	var m protocol.LiveMessage
	switch base.Type {
	case protocol.TypeOnline, protocol.TypeOffline, protocol.TypeTerritory:
		if err := json.Unmarshal(msg, &m); err != nil {
			return world.Delta{}, false
		}
	default:
		return world.Delta{}, false
	}
	switch base.Type {
	case protocol.TypeOnline:
		if m.UID.IsZero() {
			return world.Delta{}, false
		}
		return world.Delta{Kind: world.DeltaOnline, OwnerID: string(m.UID)}, true
	case protocol.TypeOffline:
		if m.UID.IsZero() {
			return world.Delta{}, false
		}
		return world.Delta{Kind: world.DeltaOffline, OwnerID: string(m.UID)}, true
	default:
		if m.Code == "" {
			return world.Delta{}, false
		}
		return world.Delta{Kind: world.DeltaTerritory, Code: m.Code, OwnerID: string(m.UID), Level: m.SP}, true
	}
}
