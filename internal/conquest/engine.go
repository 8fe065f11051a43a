// Package conquest drives selection and the capture/upgrade state machine over
// a set of identities.
package conquest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"worldroll.ai/internal/alias"
	"worldroll.ai/internal/catalog"
	"worldroll.ai/internal/journal"
	"worldroll.ai/internal/match"
	"worldroll.ai/internal/order"
	"worldroll.ai/internal/protocol"
	"worldroll.ai/internal/roll"
	"worldroll.ai/internal/world"
)

// Source fetches a full view of the world.
type Source interface {
	Fetch(ctx context.Context) (world.SnapshotData, error)
}

// Roller is implemented by *roll.Roller.
type Roller interface {
	Roll(ctx context.Context, code string) (protocol.Outcome, error)
	ResetErrors()
}

// Transferer hands a territory to another owner.
type Transferer interface {
	Transfer(ctx context.Context, code, toOwner string) (string, error)
}

// Recorder is implemented by *journal.Writer.
type Recorder interface {
	Record(e journal.Entry) error
}

// Identity is one authenticated session of the operator. The first identity
// given to New is the primary.
type Identity struct {
	ID         string
	Name       string
	Roller     Roller
	Transferer Transferer
}

type Options struct {
	AttemptBudget  int
	MaxLevel       int
	OwnedBonus     int
	AllowMates     bool
	KeepOnCapturer bool

	GiveAttempts int
	GivePause    time.Duration
	GiveInterval time.Duration

	// RefreshRetryInterval is the first wait before retrying a failed
	// refresh; waits grow up to 30 times it.
	RefreshRetryInterval time.Duration

	Markers protocol.Markers
}

func (o *Options) normalize() {
	if o.AttemptBudget <= 0 {
		o.AttemptBudget = 40
	}
	if o.MaxLevel <= 0 {
		o.MaxLevel = 3
	}
	if o.OwnedBonus == 0 {
		o.OwnedBonus = order.DefaultOwnedBonus
	}
	if o.GiveAttempts <= 0 {
		o.GiveAttempts = 5
	}
	if o.GivePause <= 0 {
		o.GivePause = 500 * time.Millisecond
	}
	if o.GiveInterval <= 0 {
		o.GiveInterval = 2 * time.Second
	}
	if o.RefreshRetryInterval <= 0 {
		o.RefreshRetryInterval = time.Second
	}
	if o.Markers == (protocol.Markers{}) {
		o.Markers = protocol.DefaultMarkers()
	}
}

type Config struct {
	Source     Source
	Store      *world.Store
	Catalog    *catalog.Catalog
	Identities []Identity
	// ClanID is the operator's clan, empty when none.
	ClanID  string
	Aliases alias.Store
	// Journal receives every roll outcome when set.
	Journal Recorder
	Options Options
	Logger  *log.Logger
	Rand    *rand.Rand
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Engine struct {
	source  Source
	store   *world.Store
	cat     *catalog.Catalog
	ids     []Identity
	op      match.Operator
	matcher *match.Matcher
	orderer *order.Orderer
	aliases *alias.Cache
	journal Recorder
	opts    Options
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("conquest: nil source")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("conquest: nil catalog")
	}
	if len(cfg.Identities) == 0 {
		return nil, errors.New("conquest: no identities")
	}
	op := match.Operator{ClanID: cfg.ClanID}
	for i, id := range cfg.Identities {
		if id.ID == "" || id.Roller == nil {
			return nil, fmt.Errorf("conquest: identity %d is incomplete", i)
		}
		op.IDs = append(op.IDs, id.ID)
	}
	if cfg.Store == nil {
		cfg.Store = world.NewStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = roll.Sleep
	}
	cfg.Options.normalize()
	e := &Engine{
		source:  cfg.Source,
		store:   cfg.Store,
		cat:     cfg.Catalog,
		ids:     cfg.Identities,
		op:      op,
		matcher: match.New(cfg.Catalog, op),
		orderer: &order.Orderer{
			Catalog:    cfg.Catalog,
			OwnedBonus: cfg.Options.OwnedBonus,
			Mine:       op.Owns,
			Rand:       cfg.Rand,
		},
		journal: cfg.Journal,
		opts:    cfg.Options,
		logger:  cfg.Logger,
		sleep:   cfg.Sleep,
	}
	if cfg.Aliases != nil {
		e.aliases = alias.NewCache(cfg.Aliases)
	}
	return e, nil
}

// List refreshes the world and returns the territories selected by tokens in
// the given order.
func (e *Engine) List(ctx context.Context, tokens []string, ord order.Mode) ([]string, error) {
	e.reloadAliases()
	snap, err := e.refreshRetry(ctx)
	if err != nil {
		return nil, err
	}
	return e.selectTargets(snap, tokens, ord)
}

// Players refreshes the world and returns its leaderboard.
func (e *Engine) Players(ctx context.Context) ([]world.PlayerStat, error) {
	snap, err := e.refreshRetry(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Leaderboard(), nil
}

func (e *Engine) refresh(ctx context.Context) (*world.Snapshot, error) {
	d, err := e.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	return e.store.Replace(d), nil
}

// refreshRetry refreshes until it succeeds. Only cancellation and a dead
// session are returned.
func (e *Engine) refreshRetry(ctx context.Context) (*world.Snapshot, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RefreshRetryInterval
	b.MaxInterval = 30 * e.opts.RefreshRetryInterval
	b.Reset()
	for attempt := 1; ; attempt++ {
		snap, err := e.refresh(ctx)
		if err == nil {
			return snap, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, protocol.ErrSessionInvalid) {
			return nil, err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = b.MaxInterval
		}
		e.logger.Printf("refresh attempt=%d failed, retry in %s: %v", attempt, wait, err)
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// refreshOrCurrent falls back to the last published snapshot when a refresh
// fails for a reason other than cancellation or a dead session.
func (e *Engine) refreshOrCurrent(ctx context.Context) (*world.Snapshot, error) {
	snap, err := e.refresh(ctx)
	if err == nil {
		return snap, nil
	}
	if ctx.Err() != nil || errors.Is(err, protocol.ErrSessionInvalid) {
		return nil, err
	}
	e.logger.Printf("refresh failed, using version=%d: %v", e.store.Current().Version, err)
	return e.store.Current(), nil
}

func (e *Engine) reloadAliases() {
	if e.aliases != nil {
		e.aliases.Reload()
	}
}

func (e *Engine) aliasSource() match.AliasSource {
	if e.aliases == nil {
		return nil
	}
	return e.aliases
}

func (e *Engine) selectTargets(snap *world.Snapshot, tokens []string, ord order.Mode) ([]string, error) {
	cache := match.NewCache(e.aliasSource())
	if err := e.matcher.Check(tokens, cache); err != nil {
		return nil, err
	}
	var out []string
	for _, code := range e.orderer.Targets(snap, ord) {
		ok, err := e.matcher.Matches(snap, code, tokens, cache)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, code)
		}
	}
	return out, nil
}

// fight rolls code once through every identity, then refreshes.
func (e *Engine) fight(ctx context.Context, r *run, code string) (*world.Snapshot, []protocol.Outcome, error) {
	outs := make([]protocol.Outcome, len(e.ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range e.ids {
		g.Go(func() error {
			out, err := id.Roller.Roll(gctx, code)
			if err != nil {
				return err
			}
			outs[i] = out
			switch out.Kind {
			case protocol.RecoverableError, protocol.TerminalNote:
				r.logf("identity=%s code=%s %s: %s", id.ID, code, out.Kind, out.Message)
			case protocol.Success:
				r.logf("identity=%s code=%s success tier=%d", id.ID, code, out.Tier)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	snap, err := e.refreshOrCurrent(ctx)
	if err != nil {
		return nil, nil, err
	}
	e.record(r, snap, code, outs)
	return snap, outs, nil
}

func (e *Engine) record(r *run, snap *world.Snapshot, code string, outs []protocol.Outcome) {
	if e.journal == nil {
		return
	}
	for i, out := range outs {
		err := e.journal.Record(journal.Entry{
			Run:       r.id,
			Identity:  e.ids[i].ID,
			Territory: code,
			Kind:      out.Kind.String(),
			Tier:      out.Tier,
			Message:   out.Message,
			Owner:     snap.OwnerOf(code),
			Level:     snap.LevelOf(code),
		})
		if err != nil {
			r.logf("journal write failed: %v", err)
			return
		}
	}
}

func (e *Engine) mine(snap *world.Snapshot, code string) bool {
	return e.op.Owns(snap.OwnerOf(code))
}

// held reports whether the territory needs no capturing: it belongs to the
// operator or, with AllowMates, to a clan mate.
func (e *Engine) held(snap *world.Snapshot, code string) bool {
	owner := snap.OwnerOf(code)
	if e.op.Owns(owner) {
		return true
	}
	if !e.opts.AllowMates || e.op.ClanID == "" {
		return false
	}
	o, ok := snap.Owner(owner)
	return ok && o.ClanID == e.op.ClanID
}

func (e *Engine) describe(snap *world.Snapshot, code string) string {
	owner := snap.OwnerOf(code)
	name := owner
	if o, ok := snap.Owner(owner); ok && o.Name != "" {
		name = o.Name
	}
	return fmt.Sprintf("code=%s name=%q level=%d owner=%q", code, e.cat.Name(code), snap.LevelOf(code), name)
}
