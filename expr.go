package recordset

import (
	"fmt"
	"reflect"
	"strings"
)

// Op is a lookup operator selecting the comparison semantics of a filter
// condition.
type Op string

const (
	OpExact Op = "exact"
	OpLike  Op = "like"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpNeq   Op = "neq"
)

var sqlOps = map[Op]string{
	OpExact: "=",
	OpLike:  "LIKE",
	OpGt:    ">",
	OpGte:   ">=",
	OpLt:    "<",
	OpLte:   "<=",
	OpNeq:   "!=",
}

// Cond is one filter condition: field, operator, value.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Q builds a condition from a lookup string of the form "field" or
// "field__operator", mirroring the chain syntax used by Filter callers:
//
//	Q("age__gt", 21)
//	Q("name__like", "A%")
//	Q("id__in", []int64{1, 2})
//
// Without an operator suffix the comparison defaults to exact equality.
// Parse errors are deferred: the condition is validated when the holding
// QuerySet compiles, before any database call.
func Q(lookup string, value any) Cond {
	field, op := lookup, OpExact
	if i := strings.Index(lookup, "__"); i >= 0 {
		field, op = lookup[:i], Op(lookup[i+2:])
	}
	return Cond{Field: field, Op: op, Value: value}
}

// Eq builds an exact-match condition.
func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpExact, Value: value} }

// Neq builds an inequality condition.
func Neq(field string, value any) Cond { return Cond{Field: field, Op: OpNeq, Value: value} }

// Gt builds a greater-than condition.
func Gt(field string, value any) Cond { return Cond{Field: field, Op: OpGt, Value: value} }

// Gte builds a greater-or-equal condition.
func Gte(field string, value any) Cond { return Cond{Field: field, Op: OpGte, Value: value} }

// Lt builds a less-than condition.
func Lt(field string, value any) Cond { return Cond{Field: field, Op: OpLt, Value: value} }

// Lte builds a less-or-equal condition.
func Lte(field string, value any) Cond { return Cond{Field: field, Op: OpLte, Value: value} }

// Like builds a pattern-match condition with backend LIKE semantics.
func Like(field string, value any) Cond { return Cond{Field: field, Op: OpLike, Value: value} }

// In builds a set-membership condition. The value must be a slice.
func In(field string, values any) Cond { return Cond{Field: field, Op: OpIn, Value: values} }

// validate checks the condition against the lookup grammar before any SQL
// is built.
func (c Cond) validate() error {
	if !identifierPattern.MatchString(c.Field) {
		return fmt.Errorf("%w: bad field name %q", ErrInvalidLookup, c.Field)
	}
	if _, known := sqlOps[c.Op]; !known && c.Op != OpIn {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidLookup, c.Op)
	}
	if c.Op == OpIn {
		rv := reflect.ValueOf(c.Value)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return fmt.Errorf("%w: in lookup on %q needs a slice value", ErrInvalidLookup, c.Field)
		}
	}
	return nil
}

// Expr is an immutable predicate tree: either a single condition leaf or a
// boolean combination of two subtrees. A nil *Expr means "no predicate".
type Expr struct {
	leaf *Cond

	conj        string // "AND" or "OR" for branch nodes
	left, right *Expr
}

// Leaf wraps a single condition as an expression.
func Leaf(c Cond) *Expr { return &Expr{leaf: &c} }

// And combines expressions so rows must satisfy all of them. Nil parts are
// skipped; And() returns nil.
func And(parts ...*Expr) *Expr { return combine("AND", parts) }

// Or combines expressions so rows may satisfy any of them.
func Or(parts ...*Expr) *Expr { return combine("OR", parts) }

func combine(conj string, parts []*Expr) *Expr {
	var out *Expr
	for _, p := range parts {
		if p == nil {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = &Expr{conj: conj, left: out, right: p}
	}
	return out
}

// allOf turns a condition list into a left-deep AND tree.
func allOf(conds []Cond) *Expr {
	parts := make([]*Expr, len(conds))
	for i, c := range conds {
		parts[i] = Leaf(c)
	}
	return And(parts...)
}

// compile linearizes the tree depth-first into a SQL boolean expression with
// placeholder parameters in traversal order. The model maps field names to
// physical columns; prefix qualifies columns when the query joins another
// table.
func (e *Expr) compile(m *Model, prefix string, b *strings.Builder, args *[]any) error {
	if e.leaf != nil {
		return e.leaf.compile(m, prefix, b, args)
	}
	b.WriteString("(")
	if err := e.left.compile(m, prefix, b, args); err != nil {
		return err
	}
	b.WriteString(") " + e.conj + " (")
	if err := e.right.compile(m, prefix, b, args); err != nil {
		return err
	}
	b.WriteString(")")
	return nil
}

func (c Cond) compile(m *Model, prefix string, b *strings.Builder, args *[]any) error {
	if err := c.validate(); err != nil {
		return err
	}
	f, ok := m.Field(c.Field)
	if !ok {
		f, ok = m.fieldForColumn(c.Field)
	}
	if !ok {
		return fmt.Errorf("%w: %s has no field %q", ErrInvalidLookup, m.Name, c.Field)
	}
	if f.Relation != nil && f.Relation.Kind == ManyToMany {
		return fmt.Errorf("%w: %s.%s is many-to-many; filter through its related manager", ErrInvalidLookup, m.Name, c.Field)
	}
	column := f.ColumnName()
	if prefix != "" {
		column = prefix + "." + column
	}

	if c.Op == OpIn {
		rv := reflect.ValueOf(c.Value)
		if rv.Len() == 0 {
			// Empty membership set matches nothing.
			b.WriteString("1 = 0")
			return nil
		}
		placeholders := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			placeholders[i] = "?"
			*args = append(*args, rv.Index(i).Interface())
		}
		fmt.Fprintf(b, "%s IN (%s)", column, strings.Join(placeholders, ", "))
		return nil
	}

	fmt.Fprintf(b, "%s %s ?", column, sqlOps[c.Op])
	*args = append(*args, bindValue(c.Value))
	return nil
}

// fieldForColumn resolves a physical column name such as "author_id" back to
// its field, so filters may address either the field or its column.
func (m *Model) fieldForColumn(column string) (Field, bool) {
	for _, f := range m.Fields {
		if f.ColumnName() == column {
			return f, true
		}
	}
	return Field{}, false
}

// bindValue normalizes values before binding. Instances bind as their
// primary key so related objects can be passed directly to filters.
func bindValue(v any) any {
	if inst, ok := v.(*Instance); ok {
		return inst.ID()
	}
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}
