package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/IMQS/fulltext/fulltext"
	"github.com/IMQS/log"
	serviceconfig "github.com/IMQS/serviceconfigsgo"
	"github.com/prometheus/client_golang/prometheus"
)

// Engine for the full-text service
type Engine struct {
	Config       *Config
	ConfigFile   string
	ConfigString string // ConfigString takes precedence over ConfigFile. ConfigString was created for use by unit tests

	IndexDB   *sql.DB
	Index     *fulltext.Index
	Binder    *fulltext.Binder
	Metrics   *fulltext.Metrics
	Registry  *prometheus.Registry
	ErrorLog  *log.Logger
	AccessLog *log.Logger

	// Set to 1 by StartStateWatcher when any registered type needs a reindex.
	// Search results carry this, so that callers know they may be looking at stale data.
	isIndexOutOfDate_Atomic uint32

	autoRebuildTicker *time.Ticker
	stateWatchTicker  *time.Ticker
}

// SearchResult is the outcome of Engine.Search
type SearchResult struct {
	Records    []*fulltext.Record
	StaleIndex bool
	TimeTotal  time.Duration
}

func pickLogFile(filename, defaultFilename string) string {
	if filename != "" {
		return filename
	}
	return defaultFilename
}

func (e *Engine) initLogging() {
	config := e.GetConfig()

	isWindows := runtime.GOOS == "windows"
	e.ErrorLog = log.New(pickLogFile(config.Log.ErrorFile, log.Stderr), !isWindows)
	e.AccessLog = log.New(pickLogFile(config.Log.AccessFile, log.Stdout), !isWindows)
	if config.VerboseLogging {
		e.ErrorLog.Level = log.Trace
		e.AccessLog.Level = log.Trace
	}
}

func (e *Engine) LoadConfigFromFile() error {
	cfg := &Config{}
	if e.ConfigString != "" {
		if err := cfg.LoadString(e.ConfigString); err != nil {
			return err
		}
	} else if err := cfg.LoadFile(e.ConfigFile); err != nil {
		return err
	}
	// No need for a lock here. This function is only called once at start up.
	e.Config = cfg
	return nil
}

func (e *Engine) GetConfig() *Config {
	return e.Config
}

// Initialize sets up the service engine
func (e *Engine) Initialize() error {
	e.initLogging()

	config := e.GetConfig()
	// It's important that we run postJSONLoad after setting up our logging. That way, the user
	// gets to see config errors in the logs.
	if err := config.postJSONLoad(e.ErrorLog); err != nil {
		return err
	}

	if err := e.openIndexDB(); err != nil {
		return fmt.Errorf("Could not open index database: %v", err)
	}

	e.Registry = prometheus.NewRegistry()
	e.Metrics = fulltext.NewMetrics(e.Registry)
	e.Index.SetMetrics(e.Metrics)
	e.Binder = fulltext.NewBinder(e.Index, e.ErrorLog)
	e.Binder.SetCompiler(fulltext.NewCompiler(config.CompilerCacheSize))

	for _, name := range config.typeNames() {
		if _, err := e.Binder.Register(name, config.indexTypeConfig(name)); err != nil {
			return err
		}
	}

	// The actual intervals that these jobs use are internal to the job functions.
	// Five seconds is just the baseline.
	e.autoRebuildTicker = time.NewTicker(5 * time.Second)
	e.stateWatchTicker = time.NewTicker(5 * time.Second)
	return nil
}

func (e *Engine) Close() {
	if e.autoRebuildTicker != nil {
		e.autoRebuildTicker.Stop()
	}
	if e.stateWatchTicker != nil {
		e.stateWatchTicker.Stop()
	}
	if e.IndexDB != nil {
		e.IndexDB.Close()
		e.IndexDB = nil
	}
	if e.ErrorLog != nil {
		e.ErrorLog.Close()
		e.ErrorLog = nil
	}
	if e.AccessLog != nil {
		e.AccessLog.Close()
		e.AccessLog = nil
	}
}

// openIndexDB opens a connection to the index db, after running the migrations
// of its dialect, and customizing the DB Connection limits
func (e *Engine) openIndexDB() error {
	config := e.GetConfig()
	driver := config.Index.Driver
	dsn := config.Index.DSN()
	if config.IndexDBAlias != "" {
		conf, err := serviceconfig.GetDBAlias(config.IndexDBAlias)
		if err != nil {
			return fmt.Errorf("Could not find index database: %v", err)
		}
		driver = conf.Driver
		dsn = conf.DSN()
	}

	dialect, err := fulltext.DialectFor(driver)
	if err != nil {
		return err
	}

	switch driver {
	case "sqlite":
		// migration.Open would run its bookkeeping on a different connection than the one we
		// end up using, which doesn't work for an in-memory database. Our schema is idempotent,
		// so we simply apply it on every startup.
		if e.IndexDB, err = sql.Open(driver, dsn); err != nil {
			return err
		}
		if dsn == "" || dsn == ":memory:" {
			e.IndexDB.SetMaxOpenConns(1)
		}
		e.Index = fulltext.NewIndex(e.IndexDB, dialect, e.ErrorLog)
		if err := e.Index.Migrate(context.Background()); err != nil {
			return err
		}
	case "mysql":
		if e.IndexDB, err = migration.OpenWith(driver, dsn, dialect.Migrations(), mysqlGetVersion, mysqlSetVersion); err != nil {
			return fmt.Errorf("While connecting to the index DB: %v", err)
		}
		e.Index = fulltext.NewIndex(e.IndexDB, dialect, e.ErrorLog)
	default:
		if e.IndexDB, err = migration.Open(driver, dsn, dialect.Migrations()); err != nil {
			return fmt.Errorf("While connecting to the index DB: %v", err)
		}
		e.Index = fulltext.NewIndex(e.IndexDB, dialect, e.ErrorLog)
	}

	if e.IndexDB == nil {
		return errors.New("Fatal: Unreachable code. A valid connection to the index db should have been established at this point")
	}
	e.setDBConnectionLimits(&config.Index, e.IndexDB)
	return nil
}

func (e *Engine) setDBConnectionLimits(cfg *ConfigDatabase, db *sql.DB) {
	if cfg != nil && cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg != nil && cfg.MaxOpenConns != 0 && cfg.Driver != "sqlite" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
}

// The default version bookkeeping of the migration package uses Postgres placeholders,
// and a multi-statement Exec, neither of which MySQL accepts.
func mysqlGetVersion(tx migration.LimitedTx) (int, error) {
	var version int
	if err := tx.QueryRow("SELECT version FROM migration_version").Scan(&version); err == nil {
		return version, nil
	}
	if err := mysqlCreateVersionTable(tx); err != nil {
		return 0, err
	}
	return 0, nil
}

func mysqlSetVersion(tx migration.LimitedTx, version int) error {
	if _, err := tx.Exec("UPDATE migration_version SET version = ?", version); err != nil {
		return err
	}
	return nil
}

func mysqlCreateVersionTable(tx migration.LimitedTx) error {
	if _, err := tx.Exec("CREATE TABLE IF NOT EXISTS migration_version (version INTEGER)"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO migration_version (version) VALUES (0)")
	return err
}

func (e *Engine) isIndexOutOfDate() bool {
	return atomic.LoadUint32(&e.isIndexOutOfDate_Atomic) != 0
}

// Search runs a query against one registered type
func (e *Engine) Search(ctx context.Context, entityType, query string, opts fulltext.Options, transform bool) (*SearchResult, error) {
	start := time.Now()
	records, err := e.Binder.Search(ctx, entityType, query, opts, transform)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Records:    records,
		StaleIndex: e.isIndexOutOfDate(),
		TimeTotal:  time.Now().Sub(start),
	}, nil
}

// Reindex rebuilds the index of each of the given types. Returns the number of entities that were indexed.
func (e *Engine) Reindex(ctx context.Context, types []string) (int, error) {
	total := 0
	for _, name := range types {
		e.ErrorLog.Infof("Rebuild index on %v", name)
		n, err := e.Binder.ReindexAll(ctx, name)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// PurgeOrphans removes index entries whose entities have disappeared, for every type that has a table
func (e *Engine) PurgeOrphans(ctx context.Context) (int64, error) {
	total := int64(0)
	for _, name := range e.Binder.Types() {
		if t, _ := e.Binder.Type(name); t.Table == "" {
			continue
		}
		n, err := e.Binder.PurgeOrphans(ctx, name)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Engine) Vacuum() error {
	// Log profusely, because this is likely to be a performance hotspot for the server
	e.ErrorLog.Infof("Starting %v", e.Index.Dialect().OptimizeStatement())
	start := time.Now()
	err := e.Index.Optimize(context.Background())
	if err != nil {
		e.ErrorLog.Errorf("Error optimizing index: %v", err)
	} else {
		e.ErrorLog.Infof("Index optimize completed in %v seconds", time.Now().Sub(start).Seconds())
	}
	return err
}
