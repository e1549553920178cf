package recordset

import (
	"fmt"
	"regexp"
	"strings"
)

// Definition is the declarative shape of a record type handed to
// Registry.Register. Field order is declaration order and is preserved in
// the generated CREATE TABLE.
type Definition struct {
	Name   string
	Fields []Field
}

// Model is the registered, immutable form of a record type: its table name
// and ordered fields, including the implicit primary key. Models are owned
// by the Registry and never mutated after registration.
type Model struct {
	Name   string
	Table  string
	Fields []Field

	fieldsByName map[string]Field
}

// Field returns the field with the given name.
func (m *Model) Field(name string) (Field, bool) {
	f, ok := m.fieldsByName[name]
	return f, ok
}

// columns returns the physical column names in declaration order, excluding
// many-to-many fields which own no column.
func (m *Model) columns() []string {
	cols := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.Relation != nil && f.Relation.Kind == ManyToMany {
			continue
		}
		cols = append(cols, f.ColumnName())
	}
	return cols
}

// dataFields returns the non-primary, non-many-to-many fields in declaration
// order; these are the columns written by Insert.
func (m *Model) dataFields() []Field {
	fields := make([]Field, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.Primary || (f.Relation != nil && f.Relation.Kind == ManyToMany) {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// manyToMany returns the many-to-many fields in declaration order.
func (m *Model) manyToMany() []Field {
	var fields []Field
	for _, f := range m.Fields {
		if f.Relation != nil && f.Relation.Kind == ManyToMany {
			fields = append(fields, f)
		}
	}
	return fields
}

// identifierPattern is the shape every table, field, and column name must
// match before it is spliced into SQL. Values never take this path; they are
// always bound parameters.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Registry collects record type definitions and is the single source of
// truth for table names, column names, and junction layout. Construct one
// explicitly and pass it to Open; there is no process-wide registry.
//
// Registration is two-pass friendly: a relationship may name a target that
// has not been registered yet, and resolution is deferred until the model is
// first used (query, insert, or migration). A target that is still missing
// at that point surfaces ErrUnresolvedReference.
type Registry struct {
	models map[string]*Model
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Register validates def, builds its Model, and stores it. The implicit
// integer primary key "id" is prepended; declaring a field named "id" or
// registering the same type name twice is an error.
func (r *Registry) Register(def Definition) (*Model, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("register: %w: empty model name", ErrInvalidArgument)
	}
	if !identifierPattern.MatchString(def.Name) {
		return nil, fmt.Errorf("register %s: %w: invalid model name", def.Name, ErrInvalidArgument)
	}
	if _, exists := r.models[def.Name]; exists {
		return nil, fmt.Errorf("register %s: %w", def.Name, ErrDuplicateModel)
	}

	m := &Model{
		Name:         def.Name,
		Table:        strings.ToLower(def.Name),
		fieldsByName: make(map[string]Field, len(def.Fields)+1),
	}
	pk := primaryKeyField()
	m.Fields = append(m.Fields, pk)
	m.fieldsByName[pk.Name] = pk

	for _, f := range def.Fields {
		if !identifierPattern.MatchString(f.Name) {
			return nil, fmt.Errorf("register %s: %w: invalid field name %q", def.Name, ErrInvalidArgument, f.Name)
		}
		if _, dup := m.fieldsByName[f.Name]; dup {
			return nil, fmt.Errorf("register %s: %w: duplicate field %q", def.Name, ErrInvalidArgument, f.Name)
		}
		if f.Primary {
			return nil, fmt.Errorf("register %s: %w: primary key is implicit", def.Name, ErrInvalidArgument)
		}
		// A self-targeting junction would need two identically named
		// foreign-key columns.
		if f.Relation != nil && f.Relation.Kind == ManyToMany && f.Relation.Target == def.Name {
			return nil, fmt.Errorf("register %s: %w: many-to-many field %q cannot target its own type",
				def.Name, ErrInvalidArgument, f.Name)
		}
		m.Fields = append(m.Fields, f)
		m.fieldsByName[f.Name] = f
	}

	r.models[def.Name] = m
	r.order = append(r.order, def.Name)
	return m, nil
}

// MustRegister is Register that panics on error, for process-start
// declarations.
func (r *Registry) MustRegister(def Definition) *Model {
	m, err := r.Register(def)
	if err != nil {
		panic(err)
	}
	return m
}

// Model returns the registered model with the given name.
func (r *Registry) Model(name string) (*Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("model %s: %w", name, ErrUnresolvedReference)
	}
	return m, nil
}

// Models returns all registered models in registration order.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.models[name])
	}
	return out
}

// resolveRelations verifies every relationship target of m is registered.
func (r *Registry) resolveRelations(m *Model) error {
	for _, f := range m.Fields {
		if f.Relation == nil {
			continue
		}
		if _, err := r.Model(f.Relation.Target); err != nil {
			return fmt.Errorf("%s.%s: %w", m.Name, f.Name, err)
		}
	}
	return nil
}

// dependencyOrder returns all models sorted so that every foreign-key target
// precedes the types referencing it, breaking ties by registration order.
// A reference cycle or missing target yields ErrMigrationOrder.
func (r *Registry) dependencyOrder() ([]*Model, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.order))
	var sorted []*Model

	var visit func(name string, from string) error
	visit = func(name, from string) error {
		m, ok := r.models[name]
		if !ok {
			return fmt.Errorf("%w: %s references unregistered model %s", ErrMigrationOrder, from, name)
		}
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: dependency cycle through %s", ErrMigrationOrder, name)
		}
		state[name] = visiting
		for _, f := range m.Fields {
			if f.Relation == nil || f.Relation.Kind == ManyToMany {
				continue
			}
			if f.Relation.Target == name {
				continue // self-reference orders trivially
			}
			if err := visit(f.Relation.Target, name); err != nil {
				return err
			}
		}
		state[name] = done
		sorted = append(sorted, m)
		return nil
	}

	for _, name := range r.order {
		if err := visit(name, name); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}
