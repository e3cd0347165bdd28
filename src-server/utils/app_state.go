package utils

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

type AppState struct {
	Config      *Config
	RawDB       *sql.DB
	BunDB       *bun.DB
	When        *when.Parser
	MetricChans *Metric

	// receives SIGINT/SIGTERM, or anything that wants the app to stop
	AppCloseSignalChan chan os.Signal

	gracefulShutdownMu    sync.Mutex
	gracefulShutdownChans []chan struct{}
	stopped               bool
}

func NewAppState() *AppState {
	cfg := NewConfig()

	rawDB, bunDB, err := OpenDB(cfg)
	if err != nil {
		slog.Error("cannot open database", "error", err)
		os.Exit(1)
	}
	return NewAppStateWith(cfg, rawDB, bunDB)
}

// Builds the state around an already opened database.
func NewAppStateWith(cfg *Config, rawDB *sql.DB, bunDB *bun.DB) *AppState {
	as := &AppState{
		Config:             cfg,
		RawDB:              rawDB,
		BunDB:              bunDB,
		MetricChans:        NewMetric(),
		AppCloseSignalChan: make(chan os.Signal, 1),
	}

	// date parser
	as.When = when.New(nil)
	as.When.Add(en.All...)
	as.When.Add(common.All...)

	return as
}

// Opens Postgres when DATABASE_URL is a postgres:// DSN, sqlite otherwise.
func OpenDB(cfg *Config) (*sql.DB, *bun.DB, error) {
	var (
		rawDB *sql.DB
		bunDB *bun.DB
		err   error
	)
	dsn := cfg.GetDatabaseURL()
	switch {
	case cfg.IsPostgres():
		if rawDB, err = sql.Open("postgres", dsn); err != nil {
			return nil, nil, fmt.Errorf("OpenDB: %w", err)
		}
		bunDB = bun.NewDB(rawDB, pgdialect.New())
	default:
		if !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, "?") {
			dsn += "?mode=rwc"
		}
		if rawDB, err = sql.Open(sqliteshim.ShimName, dsn); err != nil {
			return nil, nil, fmt.Errorf("OpenDB: %w", err)
		}
		// sqlite allows a single writer
		rawDB.SetMaxOpenConns(1)
		bunDB = bun.NewDB(rawDB, sqlitedialect.New())
	}
	rawDB.SetMaxIdleConns(8)
	if err := rawDB.Ping(); err != nil {
		return nil, nil, fmt.Errorf("OpenDB: %w", err)
	}

	bunDB.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithVerbose(true),
		bundebug.FromEnv("BUNDEBUG"),
	))
	slog.Info("database opened", "dsn", redactDSN(cfg.GetDatabaseURL()))
	return rawDB, bunDB, nil
}

// Every long-running goroutine asks for its own channel; StopBackground
// closes them all. Channels asked for after that come back already closed.
func (as *AppState) CreateGracefulShutdownChan() chan struct{} {
	as.gracefulShutdownMu.Lock()
	defer as.gracefulShutdownMu.Unlock()
	ch := make(chan struct{})
	if as.stopped {
		close(ch)
		return ch
	}
	as.gracefulShutdownChans = append(as.gracefulShutdownChans, ch)
	return ch
}

// Signals every background loop to stop. The database stays open so loops
// can finish the tick they are in.
func (as *AppState) StopBackground() {
	as.gracefulShutdownMu.Lock()
	defer as.gracefulShutdownMu.Unlock()
	for _, ch := range as.gracefulShutdownChans {
		close(ch)
	}
	as.gracefulShutdownChans = nil
	as.stopped = true
}

// Stops the background loops if that hasn't happened yet, then closes the
// database.
func (as *AppState) GracefulShutdown() {
	as.StopBackground()
	if as.BunDB != nil {
		if err := as.BunDB.Close(); err != nil {
			slog.Warn("can't close database", "error", err)
		}
	}
}
