package recordset

import (
	"fmt"
	"strings"
)

// FieldType is the storage type of a record field.
type FieldType string

const (
	TypeInteger  FieldType = "INTEGER"
	TypeText     FieldType = "TEXT"
	TypeReal     FieldType = "REAL"
	TypeBoolean  FieldType = "BOOLEAN"
	TypeDateTime FieldType = "DATETIME"
	TypeBlob     FieldType = "BLOB"
)

// Field describes a single column of a record type: its storage type,
// nullability, uniqueness, default value, and primary-key flag. Relationship
// fields additionally carry a Relation.
type Field struct {
	Name    string
	Type    FieldType
	Null    bool
	Unique  bool
	Default any
	Primary bool

	// Relation is non-nil for ForeignKey, OneToOne, and ManyToMany fields.
	Relation *Relation
}

// FieldOption adjusts a field constructor's defaults.
type FieldOption func(*Field)

// Null marks the field as nullable (fields are NOT NULL unless opted in).
func Null() FieldOption { return func(f *Field) { f.Null = true } }

// Unique adds a UNIQUE constraint to the field.
func Unique() FieldOption { return func(f *Field) { f.Unique = true } }

// Default sets the value used when no value is supplied at insert time.
// It is also emitted into the generated DDL.
func Default(v any) FieldOption { return func(f *Field) { f.Default = v } }

func newField(name string, t FieldType, opts []FieldOption) Field {
	f := Field{Name: name, Type: t}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// Text declares a TEXT field.
func Text(name string, opts ...FieldOption) Field { return newField(name, TypeText, opts) }

// Integer declares an INTEGER field.
func Integer(name string, opts ...FieldOption) Field { return newField(name, TypeInteger, opts) }

// Real declares a REAL (floating point) field.
func Real(name string, opts ...FieldOption) Field { return newField(name, TypeReal, opts) }

// Boolean declares a BOOLEAN field (stored as an integer by the backend).
func Boolean(name string, opts ...FieldOption) Field { return newField(name, TypeBoolean, opts) }

// DateTime declares a DATETIME field.
func DateTime(name string, opts ...FieldOption) Field { return newField(name, TypeDateTime, opts) }

// Blob declares a BLOB field.
func Blob(name string, opts ...FieldOption) Field { return newField(name, TypeBlob, opts) }

// primaryKeyField is the implicit integer primary key every record type gets.
func primaryKeyField() Field {
	return Field{Name: "id", Type: TypeInteger, Primary: true, Unique: true}
}

// ColumnName returns the physical column backing the field. Foreign-key and
// one-to-one fields store the related id under "<field>_id"; many-to-many
// fields have no column of their own.
func (f Field) ColumnName() string {
	if f.Relation != nil && f.Relation.Kind != ManyToMany {
		return f.Name + "_id"
	}
	return f.Name
}

// ddl renders the column definition for CREATE TABLE and ALTER TABLE.
func (f Field) ddl(reg *Registry) (string, error) {
	if f.Primary {
		return fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL", f.Name), nil
	}
	if f.Relation != nil {
		return f.Relation.ddl(f, reg)
	}
	parts := []string{f.Name, string(f.Type)}
	if !f.Null {
		parts = append(parts, "NOT NULL")
	}
	if f.Unique {
		parts = append(parts, "UNIQUE")
	}
	if f.Default != nil {
		parts = append(parts, "DEFAULT "+defaultLiteral(f.Default))
	}
	return strings.Join(parts, " "), nil
}

// defaultLiteral renders a default value for a DDL DEFAULT clause. Only the
// DDL path uses literals; every query value travels as a bound parameter.
func defaultLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", val)
	}
}
