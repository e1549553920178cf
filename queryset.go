package recordset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// orderTerm is one sort key of an ORDER BY clause.
type orderTerm struct {
	column string
	desc   bool
}

// joinClause constrains a query to rows linked through a junction table.
// Only RelatedManager sets it.
type joinClause struct {
	junction Junction
	sourceID int64
}

// QuerySet is an immutable, lazy representation of a pending query bound to
// one record type. Every chaining method returns a new QuerySet and leaves
// the receiver untouched, so a QuerySet can be shared and re-chained freely.
// Nothing touches the database until All, Get, At, Slice, or Count runs.
//
// Construction errors (bad lookups, negative bounds) are carried on the
// QuerySet and returned by the executing method before any database call.
type QuerySet struct {
	mgr    *Manager
	model  *Model
	pred   *Expr
	order  []orderTerm
	limit  *int64
	offset *int64
	join   *joinClause
	err    error
}

// clone copies the queryset so chaining never aliases the receiver's state.
func (q *QuerySet) clone() *QuerySet {
	out := *q
	out.order = append([]orderTerm(nil), q.order...)
	return &out
}

func (q *QuerySet) fail(err error) *QuerySet {
	out := q.clone()
	if out.err == nil {
		out.err = err
	}
	return out
}

// Filter returns a queryset narrowed by the given conditions. Conditions in
// one call are combined with AND, as are successive Filter calls.
func (q *QuerySet) Filter(conds ...Cond) *QuerySet {
	for _, c := range conds {
		if err := c.validate(); err != nil {
			return q.fail(fmt.Errorf("%s: %w", q.model.Name, err))
		}
	}
	out := q.clone()
	out.pred = And(out.pred, allOf(conds))
	return out
}

// FilterExpr narrows the queryset with a full predicate tree, for OR
// combinations that Filter cannot express.
func (q *QuerySet) FilterExpr(e *Expr) *QuerySet {
	out := q.clone()
	out.pred = And(out.pred, e)
	return out
}

// Order returns a queryset sorted by the given fields, in argument order of
// priority. A leading "-" sorts that key descending.
func (q *QuerySet) Order(fields ...string) *QuerySet {
	out := q.clone()
	for _, field := range fields {
		desc := false
		if strings.HasPrefix(field, "-") {
			desc = true
			field = field[1:]
		}
		f, ok := q.model.Field(field)
		if !ok {
			f, ok = q.model.fieldForColumn(field)
		}
		if !ok {
			return q.fail(fmt.Errorf("%s: %w: no field %q to order by", q.model.Name, ErrInvalidLookup, field))
		}
		if f.Relation != nil && f.Relation.Kind == ManyToMany {
			return q.fail(fmt.Errorf("%s: %w: cannot order by many-to-many field %q", q.model.Name, ErrInvalidLookup, field))
		}
		out.order = append(out.order, orderTerm{column: f.ColumnName(), desc: desc})
	}
	return out
}

// Limit bounds the number of rows returned. Negative values are rejected.
func (q *QuerySet) Limit(n int64) *QuerySet {
	if n < 0 {
		return q.fail(fmt.Errorf("%s: %w: negative limit %d", q.model.Name, ErrInvalidArgument, n))
	}
	out := q.clone()
	out.limit = &n
	return out
}

// Offset skips the first n rows. Negative values are rejected.
func (q *QuerySet) Offset(n int64) *QuerySet {
	if n < 0 {
		return q.fail(fmt.Errorf("%s: %w: negative offset %d", q.model.Name, ErrInvalidArgument, n))
	}
	out := q.clone()
	out.offset = &n
	return out
}

// compile renders the accumulated state into one parameterized SELECT.
func (q *QuerySet) compile() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}

	var b strings.Builder
	var args []any
	table := q.model.Table
	prefix := ""

	if q.join != nil {
		j := q.join.junction
		prefix = table
		fmt.Fprintf(&b, "SELECT %s.* FROM %s JOIN %s ON %s.id = %s.%s",
			table, table, j.Table, table, j.Table, j.RightColumn)
		fmt.Fprintf(&b, " WHERE %s.%s = ?", j.Table, j.LeftColumn)
		args = append(args, q.join.sourceID)
		if q.pred != nil {
			b.WriteString(" AND (")
			if err := q.pred.compile(q.model, prefix, &b, &args); err != nil {
				return "", nil, err
			}
			b.WriteString(")")
		}
	} else {
		fmt.Fprintf(&b, "SELECT * FROM %s", table)
		if q.pred != nil {
			b.WriteString(" WHERE ")
			if err := q.pred.compile(q.model, prefix, &b, &args); err != nil {
				return "", nil, err
			}
		}
	}

	if len(q.order) > 0 {
		terms := make([]string, len(q.order))
		for i, t := range q.order {
			col := t.column
			if prefix != "" {
				col = prefix + "." + col
			}
			dir := "ASC"
			if t.desc {
				dir = "DESC"
			}
			terms[i] = col + " " + dir
		}
		b.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}

	switch {
	case q.limit != nil:
		fmt.Fprintf(&b, " LIMIT %d", *q.limit)
		if q.offset != nil {
			fmt.Fprintf(&b, " OFFSET %d", *q.offset)
		}
	case q.offset != nil:
		// SQLite requires a LIMIT clause to use OFFSET; -1 means unbounded.
		fmt.Fprintf(&b, " LIMIT -1 OFFSET %d", *q.offset)
	}

	return b.String(), args, nil
}

// All executes the query and returns every matching row as materialized
// instances.
func (q *QuerySet) All(ctx context.Context) ([]*Instance, error) {
	query, args, err := q.compile()
	if err != nil {
		return nil, err
	}

	rows, err := q.mgr.store.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.model.Name, err)
	}
	defer rows.Close()

	return q.scanAll(rows)
}

// Get executes the query narrowed by conds and returns exactly one
// instance: ErrNotFound for zero matches, ErrMultipleObjects for more than
// one. A LIMIT 2 probe is enough to tell the three cases apart.
func (q *QuerySet) Get(ctx context.Context, conds ...Cond) (*Instance, error) {
	results, err := q.Filter(conds...).Limit(2).All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, fmt.Errorf("%s: %w", q.model.Name, ErrNotFound)
	case 1:
		return results[0], nil
	default:
		return nil, fmt.Errorf("%s: %w", q.model.Name, ErrMultipleObjects)
	}
}

// At executes the query for the single row at position i.
func (q *QuerySet) At(ctx context.Context, i int64) (*Instance, error) {
	results, err := q.Limit(1).Offset(i).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%s[%d]: %w", q.model.Name, i, ErrIndexRange)
	}
	return results[0], nil
}

// Slice executes the query for rows in the half-open range [from, to).
func (q *QuerySet) Slice(ctx context.Context, from, to int64) ([]*Instance, error) {
	if from < 0 || to < from {
		return nil, fmt.Errorf("%s[%d:%d]: %w", q.model.Name, from, to, ErrInvalidArgument)
	}
	return q.Limit(to - from).Offset(from).All(ctx)
}

// Count executes SELECT COUNT(*) with the accumulated predicate.
func (q *QuerySet) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	var b strings.Builder
	var args []any
	fmt.Fprintf(&b, "SELECT COUNT(*) FROM %s", q.model.Table)
	if q.join != nil {
		j := q.join.junction
		b.Reset()
		fmt.Fprintf(&b, "SELECT COUNT(*) FROM %s JOIN %s ON %s.id = %s.%s WHERE %s.%s = ?",
			q.model.Table, j.Table, q.model.Table, j.Table, j.RightColumn, j.Table, j.LeftColumn)
		args = append(args, q.join.sourceID)
		if q.pred != nil {
			b.WriteString(" AND (")
			if err := q.pred.compile(q.model, q.model.Table, &b, &args); err != nil {
				return 0, err
			}
			b.WriteString(")")
		}
	} else if q.pred != nil {
		b.WriteString(" WHERE ")
		if err := q.pred.compile(q.model, "", &b, &args); err != nil {
			return 0, err
		}
	}

	var n int64
	if err := q.mgr.store.client.DB().QueryRowContext(ctx, b.String(), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.model.Name, err)
	}
	return n, nil
}

// scanAll materializes every row into an Instance.
func (q *QuerySet) scanAll(rows *sql.Rows) ([]*Instance, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []*Instance
	for rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.model.Name, err)
		}

		inst := newInstance(q.mgr.store, q.model)
		for i, col := range columns {
			inst.values[col] = q.normalize(col, raw[i])
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// normalize converts driver values back to the field's declared type:
// TEXT read as bytes becomes string, BOOLEAN becomes bool, DATETIME strings
// become time.Time when they parse.
func (q *QuerySet) normalize(column string, v any) any {
	if v == nil {
		return nil
	}
	f, ok := q.model.fieldForColumn(column)
	if !ok {
		return v
	}
	switch f.Type {
	case TypeText, TypeDateTime:
		if b, isBytes := v.([]byte); isBytes {
			v = string(b)
		}
		if f.Type == TypeDateTime {
			if s, isStr := v.(string); isStr {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					return t
				}
			}
		}
	case TypeBoolean:
		if n, isInt := v.(int64); isInt {
			return n != 0
		}
	}
	return v
}
