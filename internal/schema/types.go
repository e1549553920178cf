// Package schema models the live physical schema of a database as read
// back from the backend, so it can be diffed against declared record types.
package schema

// Schema represents the current physical schema: every user table and its
// columns.
type Schema struct {
	Tables []Table
}

// Table represents a database table.
type Table struct {
	Name    string
	Columns []Column
}

// Column represents a table column.
type Column struct {
	Name         string
	Type         string
	NotNull      bool
	DefaultValue *string
	PrimaryKey   bool
}

// Table returns the table with the given name, if present.
func (s *Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// HasColumn reports whether the table has a column with the given name.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
