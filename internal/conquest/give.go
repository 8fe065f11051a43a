package conquest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"worldroll.ai/internal/order"
	"worldroll.ai/internal/protocol"
)

var ErrNoSuchPlayer = errors.New("no such player")

// Sequential as the Give recipient hands each territory to the next existing
// player id, counting up from 1.
const Sequential = "seq"

// maxSeqMisses bounds how many missing ids in a row a sequential give skips.
const maxSeqMisses = 50

func (e *Engine) primary() Identity { return e.ids[0] }

func (e *Engine) identityOf(ownerID string) (Identity, int) {
	for i, id := range e.ids {
		if id.ID == ownerID {
			return id, i
		}
	}
	return Identity{}, -1
}

// sendToPrimary moves a territory held by a secondary identity to the primary.
// Failures are logged; only a dead session or cancellation is returned.
func (e *Engine) sendToPrimary(ctx context.Context, r *run, holderID, code string) error {
	if e.opts.KeepOnCapturer {
		return nil
	}
	holder, idx := e.identityOf(holderID)
	if idx <= 0 || holder.Transferer == nil {
		return nil
	}
	body, err := holder.Transferer.Transfer(ctx, code, e.primary().ID)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, protocol.ErrSessionInvalid) {
			return err
		}
		r.logf("code=%s transfer from %s failed: %v", code, holder.ID, err)
		return nil
	}
	if !strings.Contains(body, e.opts.Markers.Transferred) {
		r.logf("code=%s transfer from %s not confirmed: %s", code, holder.ID, strings.TrimSpace(body))
	}
	_, err = e.refreshOrCurrent(ctx)
	return err
}

// Give hands every selected territory held by the operator to toOwner, or to
// successive player ids when toOwner is Sequential. Territories held by
// secondary identities are first moved to the primary, which then gives them
// away one at a time. It returns how many were given.
func (e *Engine) Give(ctx context.Context, tokens []string, ord order.Mode, toOwner string) (int, error) {
	toOwner = strings.TrimSpace(toOwner)
	if toOwner == "" {
		return 0, errors.New("give: empty target owner")
	}
	if e.op.Owns(toOwner) {
		return 0, fmt.Errorf("give: %s is one of the operator's identities", toOwner)
	}
	if e.primary().Transferer == nil {
		return 0, errors.New("give: primary identity cannot transfer")
	}
	r := e.newRun()
	e.reloadAliases()

	snap, err := e.refreshRetry(ctx)
	if err != nil {
		return 0, err
	}
	targets, err := e.selectTargets(snap, tokens, ord)
	if err != nil {
		return 0, err
	}
	for _, code := range targets {
		if err := e.sendToPrimary(ctx, r, e.store.Current().OwnerOf(code), code); err != nil {
			return 0, err
		}
	}

	snap, err = e.refreshRetry(ctx)
	if err != nil {
		return 0, err
	}
	targets, err = e.selectTargets(snap, tokens, ord)
	if err != nil {
		return 0, err
	}
	count := 0
	next := 1
	for _, code := range targets {
		if e.store.Current().OwnerOf(code) != e.primary().ID {
			continue
		}
		var ok bool
		if toOwner == Sequential {
			ok, err = e.giveNext(ctx, r, code, &next)
		} else {
			ok, err = e.giveOne(ctx, r, code, toOwner)
		}
		if err != nil {
			return count, err
		}
		if !ok {
			continue
		}
		count++
		if err := e.sleep(ctx, e.opts.GiveInterval); err != nil {
			return count, err
		}
		if _, err := e.refreshOrCurrent(ctx); err != nil {
			return count, err
		}
	}
	r.logf("given count=%d to=%s", count, toOwner)
	return count, nil
}

// giveNext gives code to the first existing player id at or after *next
// that is not one of the operator's identities, then moves *next past it.
func (e *Engine) giveNext(ctx context.Context, r *run, code string, next *int) (bool, error) {
	for misses := 0; misses < maxSeqMisses; {
		id := strconv.Itoa(*next)
		if e.op.Owns(id) {
			*next++
			continue
		}
		ok, err := e.giveOne(ctx, r, code, id)
		if errors.Is(err, ErrNoSuchPlayer) {
			r.logf("code=%s player %s does not exist", code, id)
			*next++
			misses++
			continue
		}
		if ok {
			*next++
		}
		return ok, err
	}
	return false, fmt.Errorf("give %s: %d missing ids in a row before %d: %w", code, maxSeqMisses, *next, ErrNoSuchPlayer)
}

func (e *Engine) giveOne(ctx context.Context, r *run, code, toOwner string) (bool, error) {
	p := e.primary()
	for attempt := 1; attempt <= e.opts.GiveAttempts; attempt++ {
		body, err := p.Transferer.Transfer(ctx, code, toOwner)
		switch {
		case err != nil:
			if ctx.Err() != nil || errors.Is(err, protocol.ErrSessionInvalid) {
				return false, err
			}
			r.logf("code=%s give attempt=%d failed: %v", code, attempt, err)
		case strings.Contains(body, e.opts.Markers.Transferred):
			r.logf("code=%s given to=%s", code, toOwner)
			return true, nil
		case strings.Contains(body, e.opts.Markers.NoSuchPlayer):
			return false, fmt.Errorf("give %s to %s: %w", code, toOwner, ErrNoSuchPlayer)
		default:
			r.logf("code=%s give attempt=%d not confirmed: %s", code, attempt, strings.TrimSpace(body))
		}
		if err := e.sleep(ctx, e.opts.GivePause); err != nil {
			return false, err
		}
	}
	r.logf("code=%s give abandoned after %d attempts", code, e.opts.GiveAttempts)
	return false, nil
}
