package conquest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"worldroll.ai/internal/alias"
	"worldroll.ai/internal/catalog"
	"worldroll.ai/internal/journal"
	"worldroll.ai/internal/match"
	"worldroll.ai/internal/order"
	"worldroll.ai/internal/protocol"
	"worldroll.ai/internal/roll"
	"worldroll.ai/internal/world"
)

const testCatalog = `{
  "territories": {
    "FR": {"name": "France", "area": 5, "centroid": [0, 0], "neighbors": ["DE", "ES"]},
    "DE": {"name": "Germany", "area": 3, "centroid": [1, 0]},
    "ES": {"name": "Spain", "area": 4, "centroid": [-1, -1]}
  }
}`

// rule decides the effect of one roll on the game state. It runs under the
// game lock.
type rule func(g *game, identity, code string) protocol.Outcome

type game struct {
	mu        sync.Mutex
	data      world.SnapshotData
	rule      rule
	rolls     []string
	transfers []string
	fetchErr  error

	fetches   int
	failFetch func(n int) error
	// stale holdings are served instead of the real ones for the next
	// staleFetches fetches.
	stale        map[string]world.Holding
	staleFetches int
}

func newGame(holdings map[string]world.Holding) *game {
	return &game{data: world.SnapshotData{
		Holdings: holdings,
		Owners: map[string]world.Owner{
			"me":  {ID: "me", Name: "main", ClanID: "3"},
			"alt": {ID: "alt", Name: "second", ClanID: "3"},
			"x":   {ID: "x", Name: "enemy"},
			"m":   {ID: "m", Name: "mate", ClanID: "3"},
		},
		Clans: map[string]world.Clan{"3": {ID: "3", Name: "Wolves"}},
	}}
}

func (g *game) Fetch(context.Context) (world.SnapshotData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return world.SnapshotData{}, g.fetchErr
	}
	if g.failFetch != nil {
		if err := g.failFetch(g.fetches); err != nil {
			return world.SnapshotData{}, err
		}
	}
	holdings := make(map[string]world.Holding, len(g.data.Holdings))
	for k, v := range g.data.Holdings {
		holdings[k] = v
	}
	if g.staleFetches > 0 {
		g.staleFetches--
		for k, v := range g.stale {
			holdings[k] = v
		}
	}
	d := g.data
	d.Holdings = holdings
	return d, nil
}

func (g *game) set(code, owner string, level int) {
	g.data.Holdings[code] = world.Holding{OwnerID: owner, Level: level}
}

func (g *game) holding(code string) world.Holding {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.data.Holdings[code]
}

func (g *game) rollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rolls)
}

type stubRoller struct {
	g        *game
	identity string
	err      error
	resets   int
}

func (s *stubRoller) Roll(ctx context.Context, code string) (protocol.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Outcome{}, err
	}
	if s.err != nil {
		return protocol.Outcome{}, s.err
	}
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	s.g.rolls = append(s.g.rolls, s.identity+":"+code)
	if s.g.rule == nil {
		return protocol.Outcome{Kind: protocol.Fail}, nil
	}
	return s.g.rule(s.g, s.identity, code), nil
}

func (s *stubRoller) ResetErrors() { s.resets++ }

type stubTransferer struct {
	g        *game
	identity string
	body     string
	missing  map[string]bool
}

func (s *stubTransferer) Transfer(_ context.Context, code, to string) (string, error) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	s.g.transfers = append(s.g.transfers, fmt.Sprintf("%s:%s->%s", s.identity, code, to))
	if s.body != "" {
		return s.body, nil
	}
	if s.missing[to] {
		return `{"result":"error","data":"Такого игрока не существует"}`, nil
	}
	if h, ok := s.g.data.Holdings[code]; ok && h.OwnerID == s.identity {
		s.g.set(code, to, h.Level)
	}
	return `{"result":"success","data":"` + code + ` теперь принадлежит ` + to + `"}`, nil
}

func newEngine(t *testing.T, g *game, ids []string, opts Options, aliases alias.Store) (*Engine, map[string]*stubRoller) {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatal(err)
	}
	rollers := map[string]*stubRoller{}
	var idents []Identity
	for _, id := range ids {
		r := &stubRoller{g: g, identity: id}
		rollers[id] = r
		idents = append(idents, Identity{ID: id, Roller: r, Transferer: &stubTransferer{g: g, identity: id}})
	}
	e, err := New(Config{
		Source:     g,
		Catalog:    cat,
		Identities: idents,
		ClanID:     "3",
		Aliases:    aliases,
		Options:    opts,
		Rand:       rand.New(rand.NewSource(1)),
		Sleep:      func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	if err != nil {
		t.Fatal(err)
	}
	return e, rollers
}

func mineOrAlt(owner string) bool { return owner == "me" || owner == "alt" }

// captureAfter captures a foreign territory on its n-th roll and raises an
// owned territory by one level per roll.
func captureAfter(n int) rule {
	count := map[string]int{}
	return func(g *game, identity, code string) protocol.Outcome {
		h := g.data.Holdings[code]
		if mineOrAlt(h.OwnerID) {
			if h.Level < 3 {
				g.set(code, h.OwnerID, h.Level+1)
			}
			return protocol.Outcome{Kind: protocol.Success, Tier: 1}
		}
		count[code]++
		if count[code] >= n {
			g.set(code, identity, 1)
			return protocol.Outcome{Kind: protocol.Success, Tier: 1, Terminal: protocol.Done}
		}
		return protocol.Outcome{Kind: protocol.Fail}
	}
}

func threeTerritories() map[string]world.Holding {
	return map[string]world.Holding{
		"FR": {OwnerID: "x", Level: 1},
		"DE": {OwnerID: "x", Level: 2},
		"ES": {OwnerID: "x", Level: 1},
	}
}

func TestConquer_CaptureOnlyDoesNotUpgrade(t *testing.T) {
	g := newGame(threeTerritories())
	g.rule = captureAfter(3)
	e, rollers := newEngine(t, g, []string{"me"}, Options{}, nil)

	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Capture); err != nil {
		t.Fatalf("conquer: %v", err)
	}
	if h := g.holding("FR"); h != (world.Holding{OwnerID: "me", Level: 1}) {
		t.Fatalf("FR: %+v", h)
	}
	if !reflect.DeepEqual(g.rolls, []string{"me:FR", "me:FR", "me:FR"}) {
		t.Fatalf("rolls: %v", g.rolls)
	}
	if rollers["me"].resets != 1 {
		t.Fatalf("a run must reset remembered errors")
	}
}

type stubRecorder struct{ entries []journal.Entry }

func (s *stubRecorder) Record(e journal.Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

func TestConquer_JournalsEveryRoll(t *testing.T) {
	g := newGame(threeTerritories())
	g.rule = captureAfter(2)
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)
	rec := &stubRecorder{}
	e.journal = rec

	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Capture); err != nil {
		t.Fatalf("conquer: %v", err)
	}
	if len(rec.entries) != 2 {
		t.Fatalf("entries=%d want 2", len(rec.entries))
	}
	last := rec.entries[1]
	if last.Identity != "me" || last.Territory != "FR" || last.Owner != "me" || last.Run == "" {
		t.Fatalf("last entry: %+v", last)
	}
	if rec.entries[0].Run != last.Run {
		t.Fatalf("entries of one run carry different run ids")
	}
}

func TestConquer_BothCapturesThenUpgrades(t *testing.T) {
	g := newGame(threeTerritories())
	g.rule = captureAfter(3)
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)

	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Both); err != nil {
		t.Fatalf("conquer: %v", err)
	}
	if h := g.holding("FR"); h != (world.Holding{OwnerID: "me", Level: 3}) {
		t.Fatalf("FR: %+v", h)
	}
	if g.rollCount() != 5 {
		t.Fatalf("expected 3 capture and 2 upgrade rolls, got %v", g.rolls)
	}
	for _, c := range []string{"DE", "ES"} {
		if g.holding(c).OwnerID != "x" {
			t.Fatalf("%s must not be touched", c)
		}
	}
}

func TestConquer_AbandonsAfterBudget(t *testing.T) {
	g := newGame(threeTerritories())
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)

	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Capture); err != nil {
		t.Fatalf("abandoning is not an error: %v", err)
	}
	if g.rollCount() != 40 {
		t.Fatalf("expected 40 rolls, got %d", g.rollCount())
	}
	if g.holding("FR").OwnerID != "x" {
		t.Fatalf("FR must stay foreign")
	}
}

func TestConquer_TransfersCaptureToPrimary(t *testing.T) {
	altOnly := func(g *game, identity, code string) protocol.Outcome {
		if g.data.Holdings[code].OwnerID == "x" && identity == "alt" {
			g.set(code, "alt", 1)
			return protocol.Outcome{Kind: protocol.Success, Tier: 1, Terminal: protocol.Done}
		}
		return protocol.Outcome{Kind: protocol.Fail}
	}

	g := newGame(threeTerritories())
	g.rule = altOnly
	e, _ := newEngine(t, g, []string{"me", "alt"}, Options{}, nil)
	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Capture); err != nil {
		t.Fatalf("conquer: %v", err)
	}
	if !reflect.DeepEqual(g.transfers, []string{"alt:FR->me"}) {
		t.Fatalf("transfers: %v", g.transfers)
	}
	if g.holding("FR").OwnerID != "me" {
		t.Fatalf("FR must end with the primary: %+v", g.holding("FR"))
	}

	g = newGame(threeTerritories())
	g.rule = altOnly
	e, _ = newEngine(t, g, []string{"me", "alt"}, Options{KeepOnCapturer: true}, nil)
	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Capture); err != nil {
		t.Fatalf("conquer: %v", err)
	}
	if len(g.transfers) != 0 || g.holding("FR").OwnerID != "alt" {
		t.Fatalf("KeepOnCapturer must leave FR with alt: transfers=%v FR=%+v", g.transfers, g.holding("FR"))
	}
}

func TestConquer_AllowMatesSkipsClanTerritory(t *testing.T) {
	h := threeTerritories()
	h["FR"] = world.Holding{OwnerID: "m", Level: 1}
	g := newGame(h)
	g.rule = captureAfter(1)

	e, _ := newEngine(t, g, []string{"me"}, Options{AllowMates: true}, nil)
	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Capture); err != nil {
		t.Fatal(err)
	}
	if g.rollCount() != 0 {
		t.Fatalf("a mate's territory must not be attacked: %v", g.rolls)
	}

	e, _ = newEngine(t, g, []string{"me"}, Options{}, nil)
	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Capture); err != nil {
		t.Fatal(err)
	}
	if g.holding("FR").OwnerID != "me" {
		t.Fatalf("without AllowMates the territory is a target: %+v", g.holding("FR"))
	}
}

func TestConquer_UpgradeStopsWhenLost(t *testing.T) {
	h := threeTerritories()
	h["FR"] = world.Holding{OwnerID: "me", Level: 1}
	g := newGame(h)
	g.rule = func(g *game, identity, code string) protocol.Outcome {
		g.set(code, "x", 1)
		return protocol.Outcome{Kind: protocol.Fail}
	}
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)

	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Upgrade); err != nil {
		t.Fatal(err)
	}
	if g.rollCount() != 1 {
		t.Fatalf("expected a single roll before the loss, got %v", g.rolls)
	}
}

func TestConquer_UpgradeStopsOnMaxedNote(t *testing.T) {
	h := threeTerritories()
	h["FR"] = world.Holding{OwnerID: "me", Level: 2}
	g := newGame(h)
	g.rule = func(*game, string, string) protocol.Outcome {
		return protocol.Outcome{Kind: protocol.TerminalNote, Terminal: protocol.LevelMaxed}
	}
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)

	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Upgrade); err != nil {
		t.Fatal(err)
	}
	if g.rollCount() != 1 {
		t.Fatalf("expected one roll, got %v", g.rolls)
	}
}

func TestConquer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := newGame(threeTerritories())
	g.rule = func(*game, string, string) protocol.Outcome {
		cancel()
		return protocol.Outcome{Kind: protocol.Fail}
	}
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)

	err := e.Conquer(ctx, []string{"FR"}, order.Near, Capture)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if g.rollCount() != 1 {
		t.Fatalf("no roll may follow cancellation, got %v", g.rolls)
	}
}

func TestConquer_SessionLostIsFatal(t *testing.T) {
	g := newGame(threeTerritories())
	e, rollers := newEngine(t, g, []string{"me"}, Options{}, nil)
	rollers["me"].err = fmt.Errorf("identity me: %w", roll.ErrSessionLost)

	err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Capture)
	if !errors.Is(err, roll.ErrSessionLost) {
		t.Fatalf("expected ErrSessionLost, got %v", err)
	}
}

func TestConquer_ExpressionErrorBeforeRolling(t *testing.T) {
	g := newGame(threeTerritories())
	g.rule = captureAfter(1)
	e, _ := newEngine(t, g, []string{"me"}, Options{}, alias.NewDir(t.TempDir()))

	err := e.Conquer(context.Background(), []string{"FR", "$missing"}, order.Near, Capture)
	if !errors.Is(err, match.ErrMatching) {
		t.Fatalf("expected a matching error, got %v", err)
	}
	if g.rollCount() != 0 {
		t.Fatalf("no roll may happen on a bad expression: %v", g.rolls)
	}
}

func TestConquer_SurvivesTransientRefreshFailure(t *testing.T) {
	g := newGame(threeTerritories())
	g.rule = captureAfter(1)
	// Fetch 3 starts the second pass.
	g.failFetch = func(n int) error {
		if n == 3 {
			return errors.New("GET get: connection reset")
		}
		return nil
	}
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)

	if err := e.Conquer(context.Background(), []string{"FR", "DE"}, order.Near, Capture); err != nil {
		t.Fatalf("conquer: %v", err)
	}
	for _, code := range []string{"FR", "DE"} {
		if h := g.holding(code); h.OwnerID != "me" {
			t.Fatalf("%s: %+v", code, h)
		}
	}
}

func TestConquer_RefreshRetriesUntilCancelled(t *testing.T) {
	g := newGame(threeTerritories())
	g.fetchErr = errors.New("gateway down")
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var waits []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 5 {
			cancel()
		}
		return ctx.Err()
	}

	err := e.Conquer(ctx, []string{"FR"}, order.Near, Capture)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if g.rollCount() != 0 || len(waits) != 5 {
		t.Fatalf("rolls=%d waits=%v", g.rollCount(), waits)
	}
	if waits[0] <= 0 || waits[4] < waits[0] {
		t.Fatalf("retry waits must back off: %v", waits)
	}
}

func TestConquer_InvalidSessionOnRefreshIsFatal(t *testing.T) {
	g := newGame(threeTerritories())
	g.fetchErr = fmt.Errorf("validate session: %w", protocol.ErrSessionInvalid)
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)

	err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Capture)
	if !errors.Is(err, protocol.ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
	if g.fetches != 1 {
		t.Fatalf("a dead session must not be retried, fetches=%d", g.fetches)
	}
}

func TestConquer_CapturedMarkerEndsAttempt(t *testing.T) {
	g := newGame(threeTerritories())
	g.rule = func(g *game, identity, code string) protocol.Outcome {
		h := g.data.Holdings[code]
		if identity != "alt" {
			return protocol.Outcome{Kind: protocol.Fail}
		}
		if mineOrAlt(h.OwnerID) {
			g.set(code, h.OwnerID, h.Level+1)
			return protocol.Outcome{Kind: protocol.Success, Tier: 1}
		}
		// The server has handed FR over, but the next view still shows x.
		g.set(code, identity, 1)
		g.stale = map[string]world.Holding{code: h}
		g.staleFetches = 1
		return protocol.Outcome{Kind: protocol.Success, Tier: 1, Terminal: protocol.Done}
	}
	e, _ := newEngine(t, g, []string{"me", "alt"}, Options{}, nil)

	if err := e.Conquer(context.Background(), []string{"FR"}, order.Near, Capture); err != nil {
		t.Fatalf("conquer: %v", err)
	}
	if n := g.rollCount(); n != 2 {
		t.Fatalf("expected one round of two rolls, got %v", g.rolls)
	}
	if h := g.holding("FR"); h != (world.Holding{OwnerID: "me", Level: 1}) {
		t.Fatalf("FR: %+v", h)
	}
	if !reflect.DeepEqual(g.transfers, []string{"alt:FR->me"}) {
		t.Fatalf("transfers: %v", g.transfers)
	}
}

func TestList_OrdersAndFilters(t *testing.T) {
	h := threeTerritories()
	h["DE"] = world.Holding{OwnerID: "me", Level: 2}
	g := newGame(h)
	dir := alias.NewDir(t.TempDir())
	if err := dir.Save("south", alias.NewSet("ES")); err != nil {
		t.Fatal(err)
	}
	e, _ := newEngine(t, g, []string{"me"}, Options{}, dir)
	ctx := context.Background()

	cases := []struct {
		expr string
		want []string
	}{
		{"*", []string{"DE", "FR", "ES"}},
		{"-@", []string{"FR", "ES"}},
		{"$south", []string{"ES"}},
		{"^2", []string{"DE"}},
	}
	for _, c := range cases {
		got, err := e.List(ctx, match.Tokenize(c.expr), order.Near)
		if err != nil {
			t.Fatalf("%q: %v", c.expr, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("%q: got %v want %v", c.expr, got, c.want)
		}
	}

	// Aliases are reread on every run.
	if err := dir.Save("south", alias.NewSet("FR")); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.List(ctx, []string{"$south"}, order.Near); !reflect.DeepEqual(got, []string{"FR"}) {
		t.Fatalf("alias not reloaded: %v", got)
	}
}

func TestGive_MovesToPrimaryThenGives(t *testing.T) {
	g := newGame(map[string]world.Holding{
		"FR": {OwnerID: "alt", Level: 1},
		"DE": {OwnerID: "me", Level: 2},
		"ES": {OwnerID: "x", Level: 1},
	})
	e, _ := newEngine(t, g, []string{"me", "alt"}, Options{}, nil)

	n, err := e.Give(context.Background(), []string{"*"}, order.Near, "42")
	if err != nil {
		t.Fatalf("give: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 territories given, got %d", n)
	}
	want := []string{"alt:FR->me", "me:FR->42", "me:DE->42"}
	if !reflect.DeepEqual(g.transfers, want) {
		t.Fatalf("transfers: got %v want %v", g.transfers, want)
	}
	if g.holding("ES").OwnerID != "x" {
		t.Fatalf("foreign territory must not be given")
	}
}

func TestGive_Errors(t *testing.T) {
	g := newGame(map[string]world.Holding{"FR": {OwnerID: "me", Level: 1}})
	e, _ := newEngine(t, g, []string{"me", "alt"}, Options{}, nil)
	ctx := context.Background()

	if _, err := e.Give(ctx, nil, order.Near, "alt"); err == nil {
		t.Fatalf("giving to an own identity must fail")
	}
	if _, err := e.Give(ctx, nil, order.Near, " "); err == nil {
		t.Fatalf("empty target must fail")
	}

	e.ids[0].Transferer.(*stubTransferer).body = `{"result":"error","data":"Такого игрока не существует"}`
	if _, err := e.Give(ctx, []string{"FR"}, order.Near, "99999"); !errors.Is(err, ErrNoSuchPlayer) {
		t.Fatalf("expected ErrNoSuchPlayer, got %v", err)
	}
}

func TestGive_Sequential(t *testing.T) {
	g := newGame(map[string]world.Holding{
		"FR": {OwnerID: "me", Level: 1},
		"DE": {OwnerID: "me", Level: 2},
	})
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)
	e.ids[0].Transferer.(*stubTransferer).missing = map[string]bool{"1": true, "3": true}

	n, err := e.Give(context.Background(), []string{"*"}, order.Near, Sequential)
	if err != nil {
		t.Fatalf("give: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 territories given, got %d", n)
	}
	first, second := "FR", "DE"
	if g.transfers[0] != "me:FR->1" {
		first, second = "DE", "FR"
	}
	want := []string{"me:" + first + "->1", "me:" + first + "->2", "me:" + second + "->3", "me:" + second + "->4"}
	if !reflect.DeepEqual(g.transfers, want) {
		t.Fatalf("transfers: got %v want %v", g.transfers, want)
	}
}

func TestGive_SequentialStopsOnLongGap(t *testing.T) {
	g := newGame(map[string]world.Holding{"FR": {OwnerID: "me", Level: 1}})
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)
	e.ids[0].Transferer.(*stubTransferer).body = `{"result":"error","data":"Такого игрока не существует"}`

	if _, err := e.Give(context.Background(), []string{"FR"}, order.Near, Sequential); !errors.Is(err, ErrNoSuchPlayer) {
		t.Fatalf("expected ErrNoSuchPlayer, got %v", err)
	}
	if len(g.transfers) != maxSeqMisses {
		t.Fatalf("expected %d attempts, got %d", maxSeqMisses, len(g.transfers))
	}
}

func TestGive_GivesUpAfterAttempts(t *testing.T) {
	g := newGame(map[string]world.Holding{"FR": {OwnerID: "me", Level: 1}})
	e, _ := newEngine(t, g, []string{"me"}, Options{GiveAttempts: 3}, nil)
	e.ids[0].Transferer.(*stubTransferer).body = `{"result":"error","data":"later"}`

	n, err := e.Give(context.Background(), []string{"FR"}, order.Near, "42")
	if err != nil || n != 0 {
		t.Fatalf("got n=%d err=%v", n, err)
	}
	if len(g.transfers) != 3 {
		t.Fatalf("expected 3 attempts, got %v", g.transfers)
	}
}

func TestPlayers(t *testing.T) {
	g := newGame(map[string]world.Holding{
		"FR": {OwnerID: "me", Level: 1},
		"DE": {OwnerID: "me", Level: 2},
		"ES": {OwnerID: "x", Level: 1},
	})
	e, _ := newEngine(t, g, []string{"me"}, Options{}, nil)

	got, err := e.Players(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []world.PlayerStat{
		{ID: "me", Name: "main", Territories: 2, Points: 3},
		{ID: "x", Name: "enemy", Territories: 1, Points: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"c": Capture, "capture": Capture, "e": Upgrade, "UPGRADE": Upgrade, "a": Both, "both": Both} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseMode("x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_Validates(t *testing.T) {
	cat, _ := catalog.Parse([]byte(testCatalog))
	if _, err := New(Config{Source: newGame(nil), Catalog: cat}); err == nil {
		t.Fatalf("expected error without identities")
	}
	if _, err := New(Config{Catalog: cat, Identities: []Identity{{ID: "me", Roller: &stubRoller{}}}}); err == nil {
		t.Fatalf("expected error without source")
	}
}
