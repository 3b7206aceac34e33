package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/niftyalgo/trader/broker"
	"github.com/niftyalgo/trader/broker/angel"
	"github.com/niftyalgo/trader/broker/paper"
	"github.com/niftyalgo/trader/config"
	"github.com/niftyalgo/trader/internal/clock"
	"github.com/niftyalgo/trader/journal"
	"github.com/niftyalgo/trader/market"
	"github.com/niftyalgo/trader/plan"
	"github.com/niftyalgo/trader/risk"
	"github.com/niftyalgo/trader/sched"
	"github.com/niftyalgo/trader/trade"
)

// exchangeTZ is the NSE trading timezone; every time-of-day rule in the
// system is expressed in it.
const exchangeTZ = "Asia/Kolkata"

// system is the fully wired trading stack.
type system struct {
	cfg      *config.Config
	log      *slog.Logger
	clk      clock.Clock
	loc      *time.Location
	broker   broker.Broker
	gateway  *market.Gateway
	ledger   *risk.Ledger
	book     *trade.Book
	monitor  *trade.Monitor
	planner  *plan.Planner
	journal  journal.Journal
	accounts []sched.Account
}

// buildSystem loads config and credentials and assembles every
// component. Accounts whose credentials are missing or rejected are
// disabled individually; the process starts as long as one survives.
func buildSystem(ctx context.Context, flags *rootFlags) (*system, error) {
	cfg, err := config.LoadFromFile(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.LoadEnv(flags.envPath); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(flags.logLevel)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", flags.logLevel, err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	clk := clock.Real{}

	loc, err := time.LoadLocation(exchangeTZ)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", exchangeTZ, err)
	}

	upstream := angel.New(log)
	if cfg.Broker.BaseURL != "" {
		upstream.BaseURL = cfg.Broker.BaseURL
	}

	var bk broker.Broker = upstream
	if cfg.Broker.Mode == "paper" {
		capital := risk.DefaultCapital
		if len(cfg.Accounts) > 0 && cfg.Accounts[0].StartingCapital > 0 {
			capital = cfg.Accounts[0].StartingCapital
		}
		bk = paper.New(upstream, capital, clk, log)
	}

	// Each account logs in on its own; a bad credential set disables
	// that account, never the process. The upstream session doubles as
	// the market data session in paper mode.
	var accounts []sched.Account
	for _, ac := range cfg.Accounts {
		creds, err := config.Credentials(ac.ClientCode)
		if err != nil {
			log.Warn("account disabled, credentials missing", "account", ac.ClientCode, "err", err)
			continue
		}
		if _, err := upstream.Login(ctx, creds); err != nil {
			log.Warn("account disabled, login failed", "account", ac.ClientCode, "err", err)
			continue
		}
		acct := sched.Account{Code: ac.ClientCode}
		if ac.StartingCapital > 0 {
			capital := ac.StartingCapital
			acct.StartingCapital = &capital
		}
		accounts = append(accounts, acct)
	}
	if len(accounts) == 0 && cfg.Broker.Mode == "live" {
		return nil, fmt.Errorf("no account could log in")
	}
	if len(accounts) == 0 {
		// Paper mode trades on without an upstream session; quotes
		// degrade until one becomes available.
		log.Warn("paper mode without any upstream login, market data may be unavailable")
		for _, ac := range cfg.Accounts {
			acct := sched.Account{Code: ac.ClientCode}
			if ac.StartingCapital > 0 {
				capital := ac.StartingCapital
				acct.StartingCapital = &capital
			}
			accounts = append(accounts, acct)
		}
	}

	gw := market.NewGateway(bk, clk, log)
	ledger := risk.NewLedger(bk, clk, log)
	limits, err := cfg.Limits()
	if err != nil {
		return nil, err
	}
	chain := &risk.Chain{Ledger: ledger, Limits: limits}
	exec := &trade.Executor{Broker: bk, Ledger: ledger, Clk: clk, Log: log}
	book := trade.NewBook()
	for _, acct := range accounts {
		book.Account(acct.Code)
	}

	jnl, err := openJournal(cfg)
	if err != nil {
		return nil, err
	}
	rec := journal.NewRecorder(jnl, clk)

	mcfg, err := cfg.MonitorSettings()
	if err != nil {
		return nil, err
	}
	mon := trade.NewMonitor(gw, exec, ledger, chain, book, rec, clk, log, mcfg)

	aiKey, err := config.AIKey()
	if err != nil {
		log.Warn("no AI key, plan generation will fail until one is set", "err", err)
	}
	ai := plan.NewClient(aiKey, cfg.AI.BaseURL, cfg.AI.Model)
	planner := plan.NewPlanner(ai, angel.NewScripMaster(clk, log), clk, log)

	return &system{
		cfg:      cfg,
		log:      log,
		clk:      clk,
		loc:      loc,
		broker:   bk,
		gateway:  gw,
		ledger:   ledger,
		book:     book,
		monitor:  mon,
		planner:  planner,
		journal:  jnl,
		accounts: accounts,
	}, nil
}

func openJournal(cfg *config.Config) (journal.Journal, error) {
	switch cfg.Journal.Type {
	case "sqlite":
		return journal.NewSQLite(cfg.Journal.DBPath)
	case "csv":
		return journal.NewCSV(cfg.Journal.PositionsFile, cfg.Journal.DailyFile)
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Journal.Type)
	}
}

func (s *system) scheduler() *sched.Scheduler {
	return sched.NewScheduler(
		s.gateway, s.planner, s.monitor, s.ledger, s.book, s.journal,
		s.accounts, s.loc, s.clk, s.log,
	)
}
