package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"worldroll.ai/internal/alias"
	"worldroll.ai/internal/catalog"
	"worldroll.ai/internal/config"
	"worldroll.ai/internal/conquest"
	"worldroll.ai/internal/journal"
	"worldroll.ai/internal/match"
	"worldroll.ai/internal/order"
	"worldroll.ai/internal/roll"
	"worldroll.ai/internal/telemetry"
	"worldroll.ai/internal/transport/api"
	"worldroll.ai/internal/transport/live"
	"worldroll.ai/internal/world"
)

const usage = `usage: bot [flags] <command>

commands:
  conquer <expr>            capture and/or upgrade the selected territories
  list <expr>               print the selected territories in order
  give <uid|seq> <expr>     hand the selected territories to another player,
                            or to successive player ids with seq
  players                   print the leaderboard
  alias save <name> <expr>  store the current selection as $name
  alias list                print stored aliases
`

func main() {
	var (
		configPath = flag.String("config", "", "config yaml (optional)")
		orderFlag  = flag.String("order", "", "target order: near|conn|random|small|large")
		modeFlag   = flag.String("mode", "", "conquest mode: capture|upgrade|both (c|e|a)")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *orderFlag != "" {
		cfg.Order = *orderFlag
	}
	if *modeFlag != "" {
		cfg.Mode = *modeFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, flag.Args()); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Printf("interrupted")
			return
		}
		logger.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger, args []string) error {
	ord, err := order.ParseMode(cfg.Order)
	if err != nil {
		return err
	}
	mode, err := conquest.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Setup(ctx, "worldroll-bot", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(sctx)
	}()

	aliases, closeAliases, err := openAliases(cfg)
	if err != nil {
		return err
	}
	defer closeAliases()

	if args[0] == "alias" {
		if len(args) < 2 || (args[1] != "list" && (args[1] != "save" || len(args) < 3)) {
			return errors.New("usage: alias save <name> <expr> | alias list")
		}
		if args[1] == "save" && !alias.ValidName(args[2]) {
			return fmt.Errorf("invalid alias name %q", args[2])
		}
	}
	if args[0] == "alias" && args[1] == "list" {
		names, err := aliases.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return err
	}
	logger.Printf("catalog path=%s territories=%d digest=%s", cfg.Catalog, len(cat.Codes), cat.Digest)

	store := world.NewStore()
	engine, closeIDs, err := connect(ctx, cfg, logger, cat, store, aliases)
	if err != nil {
		return err
	}
	defer closeIDs()

	switch args[0] {
	case "conquer":
		return engine.Conquer(ctx, match.Tokenize(strings.Join(args[1:], " ")), ord, mode)

	case "list":
		codes, err := engine.List(ctx, match.Tokenize(strings.Join(args[1:], " ")), ord)
		if err != nil {
			return err
		}
		for _, c := range codes {
			fmt.Printf("%-5s %s\n", c, cat.Name(c))
		}
		return nil

	case "give":
		if len(args) < 2 {
			return errors.New("usage: give <uid|seq> <expr>")
		}
		n, err := engine.Give(ctx, match.Tokenize(strings.Join(args[2:], " ")), ord, args[1])
		fmt.Printf("territories given: %d\n", n)
		return err

	case "players":
		stats, err := engine.Players(ctx)
		if err != nil {
			return err
		}
		for _, p := range stats {
			fmt.Printf("[%4s] %s (%d, %d)\n", p.ID, p.Name, p.Territories, p.Points)
		}
		return nil

	case "alias":
		codes, err := engine.List(ctx, match.Tokenize(strings.Join(args[3:], " ")), ord)
		if err != nil {
			return err
		}
		if err := aliases.Save(args[2], alias.NewSet(codes...)); err != nil {
			return err
		}
		logger.Printf("alias=%s saved territories=%d", args[2], len(codes))
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func openAliases(cfg config.Config) (alias.Store, func(), error) {
	if cfg.AliasDB != "" {
		db, err := alias.OpenSQLite(cfg.AliasDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open alias db: %w", err)
		}
		return db, func() { _ = db.Close() }, nil
	}
	return alias.NewDir(cfg.AliasDir), func() {}, nil
}

type session struct {
	client   *api.Client
	listener *live.Listener
	self     api.Self
}

// connect validates every session in parallel and wires one roller and live
// listener per identity. The first session is the primary.
func connect(ctx context.Context, cfg config.Config, logger *log.Logger, cat *catalog.Catalog, store *world.Store, aliases alias.Store) (*conquest.Engine, func(), error) {
	sessions := make([]session, len(cfg.Sessions))
	g, gctx := errgroup.WithContext(ctx)
	for i, cookie := range cfg.Sessions {
		g.Go(func() error {
			c, err := api.New(api.Options{
				Host:            cfg.Host,
				SessionCookie:   cfg.SessionCookie,
				Session:         cookie,
				UserAgent:       cfg.UserAgent,
				Timeout:         cfg.HTTP.Timeout,
				MaxTries:        cfg.HTTP.MaxTries,
				MaxAuthAttempts: cfg.HTTP.MaxAuthAttempts,
				RollInterval:    cfg.Roll.Interval,
				Logger:          logger,
			})
			if err != nil {
				return err
			}
			self, err := validate(gctx, c)
			if err != nil {
				return fmt.Errorf("session %d: %w", i, err)
			}
			logger.Printf("identity=%s name=%q clan=%q session=%d", self.ID, self.Name, self.ClanID, i)
			sessions[i] = session{client: c, self: self}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	ids := make([]conquest.Identity, 0, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		s.listener = live.New(live.Config{
			Identity: s.self.ID,
			URL:      cfg.WSURL,
			Cookies:  s.client.Cookies(),
			Header:   map[string][]string{"User-Agent": {cfg.UserAgent}},
		}, store, live.WithLogger(logger))
		if err := s.listener.Reconnect(ctx); err != nil {
			logger.Printf("identity=%s live connect failed: %v", s.self.ID, err)
		}
		r := roll.New(roll.Config{
			Identity:             s.self.ID,
			Interval:             cfg.Roll.Interval,
			ReconnectDelay:       cfg.Roll.ReconnectDelay,
			MaxReconnectFailures: cfg.Roll.MaxReconnectFailures,
			Markers:              cfg.Markers,
		}, s.client, s.listener, roll.WithLogger(logger))
		ids = append(ids, conquest.Identity{ID: s.self.ID, Name: s.self.Name, Roller: r, Transferer: s.client})
	}
	var rec conquest.Recorder
	var jw *journal.Writer
	if cfg.JournalDir != "" {
		jw = journal.New(cfg.JournalDir, "rolls")
		rec = jw
	}
	closeAll := func() {
		for _, s := range sessions {
			s.listener.Close()
		}
		if jw != nil {
			if err := jw.Close(); err != nil {
				logger.Printf("journal close: %v", err)
			}
		}
	}

	engine, err := conquest.New(conquest.Config{
		Source:     sessions[0].client,
		Store:      store,
		Catalog:    cat,
		Identities: ids,
		ClanID:     sessions[0].self.ClanID,
		Aliases:    aliases,
		Journal:    rec,
		Options: conquest.Options{
			AttemptBudget:  cfg.Conquest.AttemptBudget,
			MaxLevel:       cfg.Conquest.MaxLevel,
			OwnedBonus:     cfg.Conquest.OwnedBonus,
			AllowMates:     cfg.Conquest.AllowMates,
			KeepOnCapturer: cfg.Conquest.KeepOnCapturer,
			Markers:        cfg.Markers,
		},
		Logger: logger,
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return engine, closeAll, nil
}

// validate retries until the session is confirmed or declared invalid.
func validate(ctx context.Context, c *api.Client) (api.Self, error) {
	for {
		self, err := c.Validate(ctx)
		if err == nil {
			return self, nil
		}
		if errors.Is(err, api.ErrSessionInvalid) || ctx.Err() != nil {
			return api.Self{}, err
		}
		select {
		case <-ctx.Done():
			return api.Self{}, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
