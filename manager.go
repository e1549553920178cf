package recordset

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
)

// Manager is the per-record-type entry point: it produces fresh QuerySets
// and exposes the direct mutation operations. Obtain one from Store.Manager.
type Manager struct {
	store *Store
	model *Model
}

// Model returns the record type this manager operates on.
func (m *Manager) Model() *Model { return m.model }

// Query returns a fresh, unconstrained QuerySet for the record type.
func (m *Manager) Query() *QuerySet {
	return &QuerySet{mgr: m, model: m.model}
}

// Filter is shorthand for Query().Filter(conds...).
func (m *Manager) Filter(conds ...Cond) *QuerySet {
	return m.Query().Filter(conds...)
}

// All is shorthand for Query().All(ctx).
func (m *Manager) All(ctx context.Context) ([]*Instance, error) {
	return m.Query().All(ctx)
}

// Get is shorthand for Query().Get(ctx, conds...).
func (m *Manager) Get(ctx context.Context, conds ...Cond) (*Instance, error) {
	return m.Query().Get(ctx, conds...)
}

// New builds an unsaved instance from vals. Insert persists it.
func (m *Manager) New(vals Values) (*Instance, error) {
	inst := newInstance(m.store, m.model)
	if err := inst.applyValues(vals); err != nil {
		return nil, err
	}
	return inst, nil
}

// Insert writes the given instances in one transaction. On success the
// generated primary key is written back into each instance, in order. If
// any row violates a uniqueness, nullability, or foreign-key constraint the
// whole batch is rolled back and ErrIntegrity is returned.
func (m *Manager) Insert(ctx context.Context, instances ...*Instance) error {
	if len(instances) == 0 {
		return nil
	}
	for _, inst := range instances {
		if inst.model != m.model {
			return fmt.Errorf("insert %s: %w: instance of %s", m.model.Name, ErrInvalidArgument, inst.model.Name)
		}
	}
	if err := m.checkBatchUniqueness(instances); err != nil {
		return err
	}

	fields := m.model.dataFields()
	columns := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.ColumnName()
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		m.model.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	ids := make([]int64, len(instances))
	err := m.store.client.WithTx(ctx, func(tx *sql.Tx) error {
		for i, inst := range instances {
			args := make([]any, len(fields))
			for j, f := range fields {
				args[j] = inst.insertValue(f)
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("insert %s: %w", m.model.Name, wrapIntegrity(err))
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("insert %s: %w", m.model.Name, err)
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Ids are written back only after the batch has committed.
	for i, inst := range instances {
		inst.setID(ids[i])
	}
	return nil
}

// InsertValues builds instances from keyed-value rows and inserts them as
// one batch. The returned instances carry their generated ids.
func (m *Manager) InsertValues(ctx context.Context, rows ...Values) ([]*Instance, error) {
	instances := make([]*Instance, len(rows))
	for i, vals := range rows {
		inst, err := m.New(vals)
		if err != nil {
			return nil, err
		}
		instances[i] = inst
	}
	if err := m.Insert(ctx, instances...); err != nil {
		return nil, err
	}
	return instances, nil
}

// checkBatchUniqueness rejects batches that collide with themselves on a
// unique field, before the database sees any row. Values that cannot be map
// keys (blobs) are skipped; the UNIQUE constraint still catches those.
func (m *Manager) checkBatchUniqueness(instances []*Instance) error {
	for _, f := range m.model.dataFields() {
		if !f.Unique {
			continue
		}
		seen := make(map[any]bool, len(instances))
		for i, inst := range instances {
			v := inst.insertValue(f)
			if v == nil {
				continue
			}
			if !reflect.TypeOf(v).Comparable() {
				continue
			}
			if seen[v] {
				return fmt.Errorf("insert %s: %w: duplicate %s at index %d",
					m.model.Name, ErrIntegrity, f.Name, i)
			}
			seen[v] = true
		}
	}
	return nil
}

// Update compiles conds like Filter and issues one UPDATE setting vals on
// every matching row. It returns the number of rows updated. Both conds and
// vals must be non-empty.
func (m *Manager) Update(ctx context.Context, conds []Cond, vals Values) (int64, error) {
	if len(conds) == 0 {
		return 0, fmt.Errorf("update %s: %w: at least one condition required", m.model.Name, ErrInvalidArgument)
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("update %s: %w: no values to set", m.model.Name, ErrInvalidArgument)
	}

	var sets []string
	var args []any
	for _, f := range m.model.Fields {
		v, ok := vals[f.Name]
		if !ok {
			continue
		}
		if f.Primary {
			return 0, fmt.Errorf("update %s: %w: cannot set primary key", m.model.Name, ErrInvalidArgument)
		}
		if f.Relation != nil && f.Relation.Kind == ManyToMany {
			return 0, fmt.Errorf("update %s: %w: cannot set many-to-many field %q", m.model.Name, ErrInvalidArgument, f.Name)
		}
		sets = append(sets, f.ColumnName()+" = ?")
		args = append(args, bindValue(v))
	}
	if len(sets) != len(vals) {
		for name := range vals {
			if _, ok := m.model.Field(name); !ok {
				return 0, fmt.Errorf("update %s: %w: no field %q", m.model.Name, ErrInvalidArgument, name)
			}
		}
	}

	var where strings.Builder
	if err := allOf(conds).compile(m.model, "", &where, &args); err != nil {
		return 0, fmt.Errorf("update %s: %w", m.model.Name, err)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", m.model.Table, strings.Join(sets, ", "), where.String())

	var affected int64
	err := m.store.client.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update %s: %w", m.model.Name, wrapIntegrity(err))
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Delete compiles conds and issues one DELETE. Calling it with no
// conditions fails with ErrConfirmationRequired; DeleteAll is the explicit
// confirmation path. It returns the number of rows deleted. Rows in other
// tables referencing the deleted rows through a cascading foreign key are
// removed by the backend; the connection keeps referential integrity
// enforcement on for its whole lifetime.
func (m *Manager) Delete(ctx context.Context, conds ...Cond) (int64, error) {
	if len(conds) == 0 {
		return 0, fmt.Errorf("delete %s: %w", m.model.Name, ErrConfirmationRequired)
	}
	var where strings.Builder
	var args []any
	if err := allOf(conds).compile(m.model, "", &where, &args); err != nil {
		return 0, fmt.Errorf("delete %s: %w", m.model.Name, err)
	}
	return m.execDelete(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", m.model.Table, where.String()), args)
}

// DeleteAll deletes every row of the record type. It exists so that a
// full-table delete is always a deliberate call.
func (m *Manager) DeleteAll(ctx context.Context) (int64, error) {
	return m.execDelete(ctx, fmt.Sprintf("DELETE FROM %s", m.model.Table), nil)
}

func (m *Manager) execDelete(ctx context.Context, query string, args []any) (int64, error) {
	var affected int64
	err := m.store.client.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete %s: %w", m.model.Name, wrapIntegrity(err))
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
