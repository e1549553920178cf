package recordset

import (
	"context"
	"database/sql"
	"fmt"
)

// Related materializes the object behind a foreign-key or one-to-one field.
// The first call fetches and caches it on the instance; later calls return
// the cached object until Invalidate drops it. A NULL foreign key returns
// (nil, nil); a dangling id whose target row is gone returns ErrNotFound.
func (in *Instance) Related(ctx context.Context, field string) (*Instance, error) {
	f, ok := in.model.Field(field)
	if !ok {
		return nil, fmt.Errorf("%s: %w: no field %q", in.model.Name, ErrInvalidArgument, field)
	}
	if f.Relation == nil || f.Relation.Kind == ManyToMany {
		return nil, fmt.Errorf("%s.%s: %w: not a foreign-key field", in.model.Name, field, ErrInvalidArgument)
	}

	if cached, hit := in.related[field]; hit {
		return cached, nil
	}

	raw := in.values[f.ColumnName()]
	if raw == nil {
		return nil, nil
	}
	id, ok := raw.(int64)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w: stored id is %T", in.model.Name, field, ErrInvalidArgument, raw)
	}

	mgr, err := in.store.Manager(f.Relation.Target)
	if err != nil {
		return nil, err
	}
	target, err := mgr.Get(ctx, Eq("id", id))
	if err != nil {
		return nil, err
	}
	in.related[field] = target
	return target, nil
}

// Many returns the related-object manager for a many-to-many field. The
// instance must have been inserted first; junction rows need its id.
func (in *Instance) Many(field string) (*RelatedManager, error) {
	f, ok := in.model.Field(field)
	if !ok {
		return nil, fmt.Errorf("%s: %w: no field %q", in.model.Name, ErrInvalidArgument, field)
	}
	if f.Relation == nil || f.Relation.Kind != ManyToMany {
		return nil, fmt.Errorf("%s.%s: %w: not a many-to-many field", in.model.Name, field, ErrInvalidArgument)
	}
	if !in.Saved() {
		return nil, fmt.Errorf("%s.%s: %w: instance is not saved", in.model.Name, field, ErrInvalidArgument)
	}

	target, err := in.store.registry.Model(f.Relation.Target)
	if err != nil {
		return nil, err
	}
	return &RelatedManager{
		store:    in.store,
		source:   in,
		target:   target,
		junction: junctionFor(in.model, f, target),
	}, nil
}

// RelatedManager manipulates the links of one many-to-many field for one
// source instance. All reads pre-join through the junction table and are
// constrained to rows linked to the source; all writes go through the
// junction table only.
type RelatedManager struct {
	store    *Store
	source   *Instance
	target   *Model
	junction Junction
}

// Query returns a QuerySet over the linked target rows.
func (rm *RelatedManager) Query() *QuerySet {
	mgr := &Manager{store: rm.store, model: rm.target}
	return &QuerySet{
		mgr:   mgr,
		model: rm.target,
		join:  &joinClause{junction: rm.junction, sourceID: rm.source.ID()},
	}
}

// All returns every linked target row.
func (rm *RelatedManager) All(ctx context.Context) ([]*Instance, error) {
	return rm.Query().All(ctx)
}

// Filter narrows the linked rows like QuerySet.Filter.
func (rm *RelatedManager) Filter(conds ...Cond) *QuerySet {
	return rm.Query().Filter(conds...)
}

// Get returns exactly one linked row matching conds.
func (rm *RelatedManager) Get(ctx context.Context, conds ...Cond) (*Instance, error) {
	return rm.Query().Get(ctx, conds...)
}

// Add links the source to each target, skipping targets already linked.
// Adding an existing link is a no-op; the whole call is one transaction.
func (rm *RelatedManager) Add(ctx context.Context, targets ...*Instance) error {
	ids, err := rm.targetIDs(targets)
	if err != nil {
		return err
	}
	return rm.store.client.WithTx(ctx, func(tx *sql.Tx) error {
		return rm.addLinks(ctx, tx, ids)
	})
}

// Remove deletes the junction rows linking the source to each target.
// Removing a target that is not linked is a no-op.
func (rm *RelatedManager) Remove(ctx context.Context, targets ...*Instance) error {
	ids, err := rm.targetIDs(targets)
	if err != nil {
		return err
	}
	return rm.store.client.WithTx(ctx, func(tx *sql.Tx) error {
		return rm.removeLinks(ctx, tx, ids)
	})
}

// Set makes the linked set exactly equal to targets: missing links are
// added, extra links removed, in one transaction.
func (rm *RelatedManager) Set(ctx context.Context, targets []*Instance) error {
	wantIDs, err := rm.targetIDs(targets)
	if err != nil {
		return err
	}
	want := make(map[int64]bool, len(wantIDs))
	for _, id := range wantIDs {
		want[id] = true
	}

	return rm.store.client.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := rm.linkedIDs(ctx, tx)
		if err != nil {
			return err
		}
		have := make(map[int64]bool, len(current))
		for _, id := range current {
			have[id] = true
		}

		var toAdd, toRemove []int64
		for _, id := range wantIDs {
			if !have[id] {
				toAdd = append(toAdd, id)
			}
		}
		for _, id := range current {
			if !want[id] {
				toRemove = append(toRemove, id)
			}
		}

		if err := rm.addLinks(ctx, tx, toAdd); err != nil {
			return err
		}
		return rm.removeLinks(ctx, tx, toRemove)
	})
}

// Clear deletes every junction row of the source instance.
func (rm *RelatedManager) Clear(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", rm.junction.Table, rm.junction.LeftColumn)
	return rm.store.client.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, rm.source.ID()); err != nil {
			return fmt.Errorf("clear %s: %w", rm.junction.Table, err)
		}
		return nil
	})
}

func (rm *RelatedManager) addLinks(ctx context.Context, tx *sql.Tx, ids []int64) error {
	// The composite unique constraint makes re-adding a link a no-op.
	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)",
		rm.junction.Table, rm.junction.LeftColumn, rm.junction.RightColumn)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, rm.source.ID(), id); err != nil {
			return fmt.Errorf("link %s: %w", rm.junction.Table, wrapIntegrity(err))
		}
	}
	return nil
}

func (rm *RelatedManager) removeLinks(ctx context.Context, tx *sql.Tx, ids []int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?",
		rm.junction.Table, rm.junction.LeftColumn, rm.junction.RightColumn)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, rm.source.ID(), id); err != nil {
			return fmt.Errorf("unlink %s: %w", rm.junction.Table, err)
		}
	}
	return nil
}

// linkedIDs reads the target ids currently linked to the source, inside the
// caller's transaction.
func (rm *RelatedManager) linkedIDs(ctx context.Context, tx *sql.Tx) ([]int64, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		rm.junction.RightColumn, rm.junction.Table, rm.junction.LeftColumn)
	rows, err := tx.QueryContext(ctx, query, rm.source.ID())
	if err != nil {
		return nil, fmt.Errorf("read links %s: %w", rm.junction.Table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (rm *RelatedManager) targetIDs(targets []*Instance) ([]int64, error) {
	ids := make([]int64, 0, len(targets))
	for _, t := range targets {
		if t.model != rm.target {
			return nil, fmt.Errorf("%s: %w: expected %s instance, got %s",
				rm.junction.Table, ErrInvalidArgument, rm.target.Name, t.model.Name)
		}
		if !t.Saved() {
			return nil, fmt.Errorf("%s: %w: target instance is not saved", rm.junction.Table, ErrInvalidArgument)
		}
		ids = append(ids, t.ID())
	}
	return ids, nil
}
