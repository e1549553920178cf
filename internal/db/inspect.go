package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tordrt/recordset/internal/schema"
)

// Inspector reads the live schema back out of SQLite so it can be diffed
// against the declared record types.
type Inspector struct {
	client *Client
}

// NewInspector creates a schema inspector for the given client.
func NewInspector(client *Client) *Inspector {
	return &Inspector{client: client}
}

// Snapshot extracts the current schema: every user table and its columns.
// Internal sqlite_* tables are skipped.
func (i *Inspector) Snapshot(ctx context.Context) (*schema.Schema, error) {
	names, err := i.tableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	s := &schema.Schema{}
	for _, name := range names {
		columns, err := i.tableColumns(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect table %s: %w", name, err)
		}
		s.Tables = append(s.Tables, schema.Table{Name: name, Columns: columns})
	}
	return s, nil
}

// HasTable reports whether a table with the given name exists.
func (i *Inspector) HasTable(ctx context.Context, name string) (bool, error) {
	var found string
	err := i.client.DB().QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (i *Inspector) tableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`

	rows, err := i.client.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// tableColumns reads column metadata via PRAGMA table_info.
func (i *Inspector) tableColumns(ctx context.Context, table string) ([]schema.Column, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", table)

	rows, err := i.client.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}

		col := schema.Column{
			Name:       name,
			Type:       colType,
			NotNull:    notNull == 1,
			PrimaryKey: pk > 0,
		}
		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}
		columns = append(columns, col)
	}

	return columns, rows.Err()
}
