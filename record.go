package recordset

import (
	"fmt"
)

// Values is a keyed-value mapping form of a record, used for construction
// and bulk inserts. Keys are field names; relationship fields accept either
// a related *Instance or its id.
type Values map[string]any

// Instance is one materialized record of a registered type. Field values
// are held keyed by physical column name; relationship fields store the
// related id and cache the related object once it has been fetched.
//
// Instances are owned by their creator and are not safe for concurrent
// mutation.
type Instance struct {
	model *Model
	store *Store

	values  map[string]any
	related map[string]*Instance
}

func newInstance(store *Store, model *Model) *Instance {
	return &Instance{
		model:   model,
		store:   store,
		values:  make(map[string]any, len(model.Fields)),
		related: make(map[string]*Instance),
	}
}

// Model returns the record type this instance belongs to.
func (in *Instance) Model() *Model { return in.model }

// ID returns the primary key, or 0 for an instance not yet inserted.
func (in *Instance) ID() int64 {
	id, _ := in.values["id"].(int64)
	return id
}

// Saved reports whether the instance has been assigned a primary key.
func (in *Instance) Saved() bool { return in.ID() != 0 }

// Get returns the value of a field. Foreign-key and one-to-one fields
// return the stored id; use Related to materialize the object.
func (in *Instance) Get(field string) (any, error) {
	f, ok := in.model.Field(field)
	if !ok {
		return nil, fmt.Errorf("%s: %w: no field %q", in.model.Name, ErrInvalidArgument, field)
	}
	if f.Relation != nil && f.Relation.Kind == ManyToMany {
		return nil, fmt.Errorf("%s.%s: %w: use Many for many-to-many fields", in.model.Name, field, ErrInvalidArgument)
	}
	return in.values[f.ColumnName()], nil
}

// Set assigns a field value. Relationship fields accept a saved *Instance
// of the target type or a raw id; passing an instance also primes the
// relationship cache.
func (in *Instance) Set(field string, value any) error {
	f, ok := in.model.Field(field)
	if !ok {
		return fmt.Errorf("%s: %w: no field %q", in.model.Name, ErrInvalidArgument, field)
	}
	if f.Primary {
		return fmt.Errorf("%s: %w: primary key is assigned by Insert", in.model.Name, ErrInvalidArgument)
	}
	if f.Relation != nil {
		return in.setRelation(f, value)
	}
	in.values[f.ColumnName()] = value
	return nil
}

func (in *Instance) setRelation(f Field, value any) error {
	if f.Relation.Kind == ManyToMany {
		return fmt.Errorf("%s.%s: %w: use Many().Add/Set for many-to-many fields", in.model.Name, f.Name, ErrInvalidArgument)
	}
	switch v := value.(type) {
	case nil:
		in.values[f.ColumnName()] = nil
		delete(in.related, f.Name)
	case *Instance:
		if v.model.Name != f.Relation.Target {
			return fmt.Errorf("%s.%s: %w: expected %s instance, got %s",
				in.model.Name, f.Name, ErrInvalidArgument, f.Relation.Target, v.model.Name)
		}
		if !v.Saved() {
			return fmt.Errorf("%s.%s: %w: related instance is not saved", in.model.Name, f.Name, ErrInvalidArgument)
		}
		in.values[f.ColumnName()] = v.ID()
		in.related[f.Name] = v
	default:
		in.values[f.ColumnName()] = value
		delete(in.related, f.Name)
	}
	return nil
}

// AsMap returns a flat mapping from field name to scalar value. Foreign-key
// and one-to-one fields appear under "<field>_id" holding the stored id,
// never the nested object. Many-to-many fields are omitted; they live in
// the junction table.
func (in *Instance) AsMap() map[string]any {
	out := make(map[string]any, len(in.model.Fields))
	for _, f := range in.model.Fields {
		if f.Relation != nil && f.Relation.Kind == ManyToMany {
			continue
		}
		out[f.ColumnName()] = in.values[f.ColumnName()]
	}
	return out
}

// applyValues copies vals into the instance through Set, validating each
// field name.
func (in *Instance) applyValues(vals Values) error {
	for _, f := range in.model.Fields {
		v, ok := vals[f.Name]
		if !ok {
			continue
		}
		if err := in.Set(f.Name, v); err != nil {
			return err
		}
	}
	for name := range vals {
		if _, ok := in.model.Field(name); !ok {
			return fmt.Errorf("%s: %w: no field %q", in.model.Name, ErrInvalidArgument, name)
		}
	}
	return nil
}

// insertValue returns the value bound for f on INSERT: the assigned value,
// the declared default when unset, or nil.
func (in *Instance) insertValue(f Field) any {
	v, ok := in.values[f.ColumnName()]
	if !ok || v == nil {
		if f.Default != nil {
			return bindValue(f.Default)
		}
		return nil
	}
	return bindValue(v)
}

// setID records the generated primary key after a successful insert.
func (in *Instance) setID(id int64) { in.values["id"] = id }

// Invalidate drops the cached related object for a relationship field so
// the next Related call re-fetches it. With no arguments the whole cache is
// dropped.
func (in *Instance) Invalidate(fields ...string) {
	if len(fields) == 0 {
		in.related = make(map[string]*Instance)
		return
	}
	for _, f := range fields {
		delete(in.related, f)
	}
}
