package container

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gocdr/adapters/postgres"
	"gocdr/adapters/rng"
	"gocdr/app"
	"gocdr/internal"
	"gocdr/internal/config"
	"gocdr/internal/errors"
	"gocdr/internal/migration"
	"gocdr/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB *sqlx.DB

	// Ports
	RunRepo ports.RunRepository
	RNG     ports.RNGPort

	// Services
	FitService *app.FitService
}

// New creates a new dependency injection container. Without a database the
// fit service runs unrecorded.
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		RNG:    rng.NewStreams(),
	}
	c.FitService = app.NewFitService(nil, c.RNG, logger)
	return c, nil
}

// InitWithDatabase initializes components that require database access
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}

	c.DB = db

	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database connection test failed")
	}

	migrator := migration.NewRunner()
	if err := migrator.Run(ctx, db); err != nil {
		return errors.Wrap(err, "database migration failed")
	}

	c.RunRepo = postgres.NewRunRepository(db)
	c.FitService = app.NewFitService(c.RunRepo, c.RNG, c.Logger)

	c.Logger.Info("container initialized with %s database (schema %s)", db.DriverName(), migrator.Version())
	return nil
}

// OpenDatabase connects to url. URLs starting with sqlite: open an embedded
// SQLite database at the remaining path; anything else is handed to the
// Postgres driver.
func OpenDatabase(ctx context.Context, url string, maxOpenConns int) (*sqlx.DB, error) {
	if url == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}

	var db *sqlx.DB
	if path, ok := strings.CutPrefix(url, "sqlite:"); ok {
		raw, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open sqlite database")
		}
		// SQLite serializes writers; :memory: databases are per connection.
		raw.SetMaxOpenConns(1)
		db = sqlx.NewDb(raw, "sqlite3")
	} else {
		var err error
		db, err = sqlx.ConnectContext(ctx, "postgres", url)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to database")
		}
		db.SetMaxOpenConns(maxOpenConns)
	}
	return db, nil
}

// Shutdown releases held resources
func (c *Container) Shutdown(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			return errors.Wrap(err, "failed to close database")
		}
		c.Logger.Info("database connection closed")
	}
	return nil
}
