package conquest

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"worldroll.ai/internal/order"
	"worldroll.ai/internal/protocol"
	"worldroll.ai/internal/world"
)

var tracer = otel.Tracer("worldroll.ai/internal/conquest")

type run struct {
	id     string
	logger *log.Logger
}

func (r *run) logf(format string, args ...any) {
	r.logger.Printf("run=%s "+format, append([]any{r.id}, args...)...)
}

func (e *Engine) newRun() *run {
	return &run{id: uuid.NewString(), logger: e.logger}
}

// Conquer repeatedly selects targets and works through them until a full pass
// changes nothing. A change restarts selection against a fresh snapshot.
func (e *Engine) Conquer(ctx context.Context, tokens []string, ord order.Mode, mode Mode) error {
	r := e.newRun()
	e.reloadAliases()
	for _, id := range e.ids {
		id.Roller.ResetErrors()
	}
	r.logf("conquer start mode=%s order=%s expr=%q", mode, ord, tokens)

	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		changed, err := e.pass(ctx, r, pass, tokens, ord, mode)
		if err != nil {
			return err
		}
		if !changed {
			r.logf("conquer done passes=%d", pass)
			return nil
		}
	}
}

func (e *Engine) pass(ctx context.Context, r *run, pass int, tokens []string, ord order.Mode, mode Mode) (bool, error) {
	ctx, span := tracer.Start(ctx, "conquest.pass", trace.WithAttributes(
		attribute.String("run", r.id),
		attribute.Int("pass", pass),
	))
	defer span.End()

	snap, err := e.refreshRetry(ctx)
	if err != nil {
		return false, err
	}
	targets, err := e.selectTargets(snap, tokens, ord)
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Int("targets", len(targets)))

	for _, code := range targets {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		var changed bool
		switch mode {
		case Capture:
			changed, err = e.captureTarget(ctx, r, code)
		case Upgrade:
			changed, err = e.upgradeTarget(ctx, r, code)
		case Both:
			var captured, upgraded bool
			if captured, err = e.captureTarget(ctx, r, code); err == nil {
				upgraded, err = e.upgradeTarget(ctx, r, code)
			}
			changed = captured || upgraded
		default:
			panic(fmt.Sprintf("conquest: unhandled mode %v", mode))
		}
		if err != nil {
			return false, err
		}
		if changed {
			return true, nil
		}
	}
	return false, nil
}

// captureTarget rolls until an operator identity holds code or the attempt
// budget runs out. It reports whether ownership changed.
func (e *Engine) captureTarget(ctx context.Context, r *run, code string) (bool, error) {
	snap := e.store.Current()
	if e.held(snap, code) {
		return false, nil
	}
	ctx, span := tracer.Start(ctx, "conquest.capture", trace.WithAttributes(
		attribute.String("run", r.id),
		attribute.String("territory", code),
	))
	defer span.End()

	r.logf("capturing %s", e.describe(snap, code))
	state := Attempting
	rounds := 0
	capturer := ""
	for state == Attempting {
		if rounds >= e.opts.AttemptBudget {
			state = Abandoned
			break
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		next, outs, err := e.fight(ctx, r, code)
		if err != nil {
			return false, err
		}
		rounds++
		snap = next
		// The server's captured marker is authoritative even when the
		// refreshed snapshot has not caught up yet.
		if i := capturedBy(outs); i >= 0 {
			state, capturer = Done, e.ids[i].ID
		} else if e.held(snap, code) {
			state, capturer = Done, snap.OwnerOf(code)
		}
	}
	span.SetAttributes(attribute.String("state", state.String()), attribute.Int("rounds", rounds))
	if state != Done {
		r.logf("code=%s %s after %d rounds", code, state, rounds)
		return false, nil
	}
	r.logf("code=%s captured by %s after %d rounds", code, capturer, rounds)
	if err := e.sendToPrimary(ctx, r, capturer, code); err != nil {
		return true, err
	}
	return true, nil
}

func capturedBy(outs []protocol.Outcome) int {
	for i, o := range outs {
		if o.Terminal == protocol.Done {
			return i
		}
	}
	return -1
}

// upgradeTarget rolls on a held territory until it reaches MaxLevel, the
// server reports it maxed, it is lost, or the budget runs out. Raising the
// level counts as a change.
func (e *Engine) upgradeTarget(ctx context.Context, r *run, code string) (bool, error) {
	snap := e.store.Current()
	if !e.mine(snap, code) || snap.LevelOf(code) >= e.opts.MaxLevel {
		return false, nil
	}
	ctx, span := tracer.Start(ctx, "conquest.upgrade", trace.WithAttributes(
		attribute.String("run", r.id),
		attribute.String("territory", code),
	))
	defer span.End()

	r.logf("upgrading %s", e.describe(snap, code))
	start := snap.LevelOf(code)
	raised := false
	state := Attempting
	rounds := 0
	for state == Attempting {
		if rounds >= e.opts.AttemptBudget {
			state = Abandoned
			break
		}
		if err := ctx.Err(); err != nil {
			return raised, err
		}
		next, outs, err := e.fight(ctx, r, code)
		if err != nil {
			return raised, err
		}
		rounds++
		snap = next
		state = e.upgradeState(snap, code, outs)
		if e.mine(snap, code) && snap.LevelOf(code) > start {
			raised = true
		}
	}
	span.SetAttributes(attribute.String("state", state.String()), attribute.Int("rounds", rounds))
	r.logf("code=%s %s level=%d after %d rounds", code, state, snap.LevelOf(code), rounds)
	return raised, nil
}

func (e *Engine) upgradeState(snap *world.Snapshot, code string, outs []protocol.Outcome) State {
	if !e.mine(snap, code) {
		return Abandoned
	}
	if snap.LevelOf(code) >= e.opts.MaxLevel {
		return Done
	}
	for _, o := range outs {
		if o.Terminal == protocol.LevelMaxed {
			return LevelMaxed
		}
	}
	return Attempting
}
