package recordset

import (
	"fmt"
	"strings"
)

// RelationKind distinguishes the three supported relationship shapes.
type RelationKind int

const (
	// OneToMany is a plain foreign key: many rows of the declaring type may
	// reference one target row.
	OneToMany RelationKind = iota
	// OneToOne is a foreign key with a UNIQUE constraint.
	OneToOne
	// ManyToMany links rows through a junction table and has no physical
	// column on either side.
	ManyToMany
)

// Relation describes how a relationship field maps onto the database.
type Relation struct {
	Kind RelationKind

	// Target is the record type name the relationship points at. The target
	// does not have to be registered yet when the declaring type registers;
	// it is resolved at first use.
	Target string

	// Through overrides the junction table name for many-to-many fields.
	// Empty means "<source_table>_<target_table>".
	Through string
}

// ForeignKey declares a one-to-many relationship to target. The physical
// column is "<name>_id" with ON DELETE CASCADE.
func ForeignKey(name, target string, opts ...FieldOption) Field {
	f := newField(name, TypeInteger, opts)
	f.Relation = &Relation{Kind: OneToMany, Target: target}
	return f
}

// OneToOneField declares a one-to-one relationship: a ForeignKey with a
// UNIQUE constraint.
func OneToOneField(name, target string, opts ...FieldOption) Field {
	f := ForeignKey(name, target, opts...)
	f.Relation.Kind = OneToOne
	f.Unique = true
	return f
}

// ManyToManyField declares a many-to-many relationship backed by a junction
// table.
func ManyToManyField(name, target string) Field {
	f := Field{Name: name, Type: TypeInteger}
	f.Relation = &Relation{Kind: ManyToMany, Target: target}
	return f
}

// Junction is the physical layout of a many-to-many junction table: two
// foreign-key columns plus a composite unique constraint over both.
type Junction struct {
	Table       string
	LeftTable   string
	LeftColumn  string
	RightTable  string
	RightColumn string
}

// junctionFor computes the junction layout for a many-to-many field declared
// on source.
func junctionFor(source *Model, f Field, target *Model) Junction {
	table := f.Relation.Through
	if table == "" {
		table = source.Table + "_" + target.Table
	}
	return Junction{
		Table:       table,
		LeftTable:   source.Table,
		LeftColumn:  source.Table + "_id",
		RightTable:  target.Table,
		RightColumn: target.Table + "_id",
	}
}

// CreateSQL renders the CREATE TABLE statement for the junction table.
func (j Junction) CreateSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", j.Table)
	b.WriteString("id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, ")
	fmt.Fprintf(&b, "%s INTEGER NOT NULL REFERENCES %s(id) ON DELETE CASCADE, ", j.LeftColumn, j.LeftTable)
	fmt.Fprintf(&b, "%s INTEGER NOT NULL REFERENCES %s(id) ON DELETE CASCADE, ", j.RightColumn, j.RightTable)
	fmt.Fprintf(&b, "UNIQUE(%s, %s))", j.LeftColumn, j.RightColumn)
	return b.String()
}

// ddl renders the column definition for foreign-key and one-to-one fields.
// Many-to-many fields never reach here; they own no column.
func (r *Relation) ddl(f Field, reg *Registry) (string, error) {
	target, err := reg.Model(r.Target)
	if err != nil {
		return "", err
	}
	parts := []string{f.ColumnName(), "INTEGER"}
	if !f.Null {
		parts = append(parts, "NOT NULL")
	}
	if f.Unique {
		parts = append(parts, "UNIQUE")
	}
	parts = append(parts, fmt.Sprintf("REFERENCES %s(id) ON DELETE CASCADE", target.Table))
	return strings.Join(parts, " "), nil
}
