package recordset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tordrt/recordset/internal/db"
)

// trackingTable persists one row per applied migration step. The layout is
// load-bearing: external tooling reads it.
const trackingTable = "recordset_migrations"

const createTrackingTable = `
CREATE TABLE IF NOT EXISTS ` + trackingTable + ` (
	app_name TEXT,
	migration_name TEXT,
	applied_at TIMESTAMP
)`

// StepState is the lifecycle position of a migration step: generated but
// not applied, or recorded in the tracking table.
type StepState string

const (
	StatePending StepState = "pending"
	StateApplied StepState = "applied"
)

// Step is one unit of schema change derived from the registry: a new
// table, a new junction table, or a new column on an existing table. A step
// is applied at most once.
type Step struct {
	Name       string
	Model      string
	Statements []string
	State      StepState
}

// Applied is one row of the tracking table.
type Applied struct {
	App       string
	Name      string
	AppliedAt time.Time
}

// Migrator diffs the registry's record definitions against the live
// database and brings the physical schema up to date, tracking every
// applied step so re-runs are idempotent.
type Migrator struct {
	store *Store
	app   string
}

// Migrator returns a migration engine for this store. The app name scopes
// rows in the tracking table.
func (s *Store) Migrator(app string) *Migrator {
	if app == "" {
		app = "default"
	}
	return &Migrator{store: s, app: app}
}

// Generate computes the pending migration steps: a create-table step per
// record type whose table does not exist yet, an add-column step per
// missing column on tables that do, and a create step per missing junction
// table. Steps are ordered so every foreign-key target migrates before the
// types referencing it; junction tables come after both endpoints. The
// database is not modified.
func (mi *Migrator) Generate(ctx context.Context) ([]Step, error) {
	models, err := mi.store.registry.dependencyOrder()
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		if err := mi.store.registry.resolveRelations(m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMigrationOrder, err)
		}
	}

	snapshot, err := db.NewInspector(mi.store.client).Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	var steps []Step
	for _, m := range models {
		table, exists := snapshot.Table(m.Table)
		if !exists {
			stmt, err := createTableSQL(m, mi.store.registry)
			if err != nil {
				return nil, err
			}
			steps = append(steps, Step{
				Name:       "create_" + m.Table,
				Model:      m.Name,
				Statements: []string{stmt},
				State:      StatePending,
			})
			continue
		}
		for _, f := range m.Fields {
			if f.Relation != nil && f.Relation.Kind == ManyToMany {
				continue
			}
			if table.HasColumn(f.ColumnName()) {
				continue
			}
			ddl, err := f.ddl(mi.store.registry)
			if err != nil {
				return nil, err
			}
			steps = append(steps, Step{
				Name:       fmt.Sprintf("add_%s_%s", m.Table, f.ColumnName()),
				Model:      m.Name,
				Statements: []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", m.Table, ddl)},
				State:      StatePending,
			})
		}
	}

	// Junction tables migrate after every endpoint table exists.
	for _, m := range models {
		for _, f := range m.manyToMany() {
			target, err := mi.store.registry.Model(f.Relation.Target)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMigrationOrder, err)
			}
			j := junctionFor(m, f, target)
			if _, exists := snapshot.Table(j.Table); exists {
				continue
			}
			steps = append(steps, Step{
				Name:       "create_" + j.Table,
				Model:      m.Name,
				Statements: []string{j.CreateSQL()},
				State:      StatePending,
			})
		}
	}

	return steps, nil
}

// Migrate generates the pending steps and applies every one not yet in the
// tracking table, in order. Each step runs in its own transaction together
// with its tracking row, so a step is either fully applied and recorded or
// not at all. The first failure stops the run; already-applied steps stay
// recorded and the run is safe to retry. Running Migrate twice in a row
// applies nothing the second time.
func (mi *Migrator) Migrate(ctx context.Context) ([]Step, error) {
	steps, err := mi.Generate(ctx)
	if err != nil {
		return nil, err
	}
	if err := mi.ensureTracking(ctx); err != nil {
		return nil, err
	}
	recorded, err := mi.appliedSet(ctx)
	if err != nil {
		return nil, err
	}

	log := mi.store.log
	var applied []Step
	for _, step := range steps {
		if recorded[step.Name] {
			log.Debug("migration already applied", "app", mi.app, "step", step.Name)
			continue
		}
		if err := mi.applyStep(ctx, step); err != nil {
			log.Error("migration failed", "app", mi.app, "step", step.Name, "error", err)
			return applied, fmt.Errorf("apply %s: %w", step.Name, err)
		}
		step.State = StateApplied
		applied = append(applied, step)
		log.Info("migration applied", "app", mi.app, "step", step.Name, "model", step.Model)
	}
	return applied, nil
}

// Status reports applied and pending steps without changing any state.
func (mi *Migrator) Status(ctx context.Context) (applied []Applied, pending []Step, err error) {
	if err := mi.ensureTracking(ctx); err != nil {
		return nil, nil, err
	}
	applied, err = mi.appliedRows(ctx)
	if err != nil {
		return nil, nil, err
	}

	steps, err := mi.Generate(ctx)
	if err != nil {
		return nil, nil, err
	}
	recorded := make(map[string]bool, len(applied))
	for _, a := range applied {
		recorded[a.Name] = true
	}
	for _, step := range steps {
		if !recorded[step.Name] {
			pending = append(pending, step)
		}
	}
	return applied, pending, nil
}

// applyStep runs one step and its tracking row in a single transaction.
func (mi *Migrator) applyStep(ctx context.Context, step Step) error {
	return mi.store.client.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range step.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO "+trackingTable+" (app_name, migration_name, applied_at) VALUES (?, ?, ?)",
			mi.app, step.Name, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		return nil
	})
}

func (mi *Migrator) ensureTracking(ctx context.Context) error {
	if _, err := mi.store.client.DB().ExecContext(ctx, createTrackingTable); err != nil {
		return fmt.Errorf("ensure tracking table: %w", err)
	}
	return nil
}

func (mi *Migrator) appliedSet(ctx context.Context) (map[string]bool, error) {
	rows, err := mi.appliedRows(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(rows))
	for _, r := range rows {
		set[r.Name] = true
	}
	return set, nil
}

func (mi *Migrator) appliedRows(ctx context.Context) ([]Applied, error) {
	rows, err := mi.store.client.DB().QueryContext(ctx,
		"SELECT app_name, migration_name, applied_at FROM "+trackingTable+" WHERE app_name = ? ORDER BY rowid",
		mi.app,
	)
	if err != nil {
		return nil, fmt.Errorf("read tracking table: %w", err)
	}
	defer rows.Close()

	var out []Applied
	for rows.Next() {
		var a Applied
		// The driver converts TIMESTAMP columns to time.Time on scan.
		if err := rows.Scan(&a.App, &a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// createTableSQL renders the CREATE TABLE statement for a model: one column
// per field in declaration order, starting with the primary key.
func createTableSQL(m *Model, reg *Registry) (string, error) {
	var defs []string
	for _, f := range m.Fields {
		if f.Relation != nil && f.Relation.Kind == ManyToMany {
			continue
		}
		ddl, err := f.ddl(reg)
		if err != nil {
			return "", err
		}
		defs = append(defs, ddl)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", m.Table, strings.Join(defs, ", ")), nil
}
