// Package recordset maps declaratively defined record schemas onto SQLite
// tables and provides a composable, immutable query interface instead of
// hand-written SQL.
//
// Record types are declared once, at process start, against an explicit
// Registry:
//
//	reg := recordset.NewRegistry()
//	reg.MustRegister(recordset.Definition{
//		Name: "Author",
//		Fields: []recordset.Field{
//			recordset.Text("name"),
//			recordset.Integer("age", recordset.Null()),
//		},
//	})
//	reg.MustRegister(recordset.Definition{
//		Name: "Post",
//		Fields: []recordset.Field{
//			recordset.Text("title"),
//			recordset.ForeignKey("author", "Author"),
//		},
//	})
//
// A Store binds the registry to a database file. Its Migrator creates and
// evolves the physical schema, and its per-type Managers execute queries
// and mutations:
//
//	store, err := recordset.Open(ctx, reg, recordset.Config{Path: "app.db"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	if _, err := store.Migrator("blog").Migrate(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	posts := store.MustManager("Post")
//	recent, err := posts.Filter(
//		recordset.Q("title__like", "Go%"),
//	).Order("-id").Limit(10).All(ctx)
//
// Every chaining operation returns a new QuerySet; values always travel as
// bound parameters, never interpolated into SQL.
package recordset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tordrt/recordset/internal/db"
)

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file path.
	Path string

	// BusyTimeoutMS is the lock wait budget in milliseconds; zero uses the
	// driver default below.
	BusyTimeoutMS int

	// WALMode enables write-ahead logging.
	WALMode bool

	// Logger receives structured migration and lifecycle events. Nil means
	// silent.
	Logger *slog.Logger
}

// Store binds a Registry to one database connection. It hands out Managers
// per record type and the Migrator that keeps the physical schema in step
// with the registry. All record types must be registered before the first
// query or migration runs.
type Store struct {
	registry *Registry
	client   *db.Client
	log      *slog.Logger
}

// Open connects to the database with referential-integrity enforcement on
// for the connection's whole lifetime.
func Open(ctx context.Context, reg *Registry, cfg Config) (*Store, error) {
	if reg == nil {
		return nil, fmt.Errorf("open: %w: nil registry", ErrInvalidArgument)
	}
	client, err := db.Open(ctx, db.Config{
		Path:          cfg.Path,
		BusyTimeoutMS: cfg.BusyTimeoutMS,
		WALMode:       cfg.WALMode,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Store{registry: reg, client: client, log: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Registry returns the registry this store was opened with.
func (s *Store) Registry() *Registry { return s.registry }

// Manager returns the entry point for one record type. This is the first
// use of the type's relationships: a relationship target that was never
// registered surfaces here as ErrUnresolvedReference.
func (s *Store) Manager(model string) (*Manager, error) {
	m, err := s.registry.Model(model)
	if err != nil {
		return nil, err
	}
	if err := s.registry.resolveRelations(m); err != nil {
		return nil, err
	}
	return &Manager{store: s, model: m}, nil
}

// MustManager is Manager that panics on error, for use after registration
// and migration have been verified at startup.
func (s *Store) MustManager(model string) *Manager {
	mgr, err := s.Manager(model)
	if err != nil {
		panic(err)
	}
	return mgr
}
