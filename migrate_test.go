package recordset

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

func TestGenerateOrdersSteps(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, testRegistry(t), Config{
		Path: filepath.Join(t.TempDir(), "x.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	steps, err := store.Migrator("test").Generate(ctx)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	names := stepNames(steps)
	pos := map[string]int{}
	for i, n := range names {
		pos[n] = i
	}

	for _, want := range []string{"create_author", "create_post", "create_profile", "create_tag", "create_post_tag"} {
		if _, ok := pos[want]; !ok {
			t.Fatalf("missing step %s in %v", want, names)
		}
	}
	if pos["create_author"] > pos["create_post"] {
		t.Error("author table must precede post table")
	}
	// The junction comes after both endpoint tables.
	if pos["create_post_tag"] < pos["create_post"] || pos["create_post_tag"] < pos["create_tag"] {
		t.Errorf("junction step out of order: %v", names)
	}

	// Generate alone never touches the database.
	again, err := store.Migrator("test").Generate(ctx)
	if err != nil {
		t.Fatalf("second Generate failed: %v", err)
	}
	if len(again) != len(steps) {
		t.Errorf("Generate changed state: %d then %d steps", len(steps), len(again))
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, testRegistry(t), Config{
		Path: filepath.Join(t.TempDir(), "x.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	mi := store.Migrator("blog")
	first, err := mi.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("expected applied steps on first run")
	}

	second, err := mi.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected nothing to apply on second run, got %v", stepNames(second))
	}
}

func TestMigrateRecordsApplications(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, testRegistry(t), Config{
		Path: filepath.Join(t.TempDir(), "x.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	mi := store.Migrator("blog")
	applied, err := mi.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	rows, pending, err := mi.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(rows) != len(applied) {
		t.Errorf("expected %d tracking rows, got %d", len(applied), len(rows))
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending steps, got %v", stepNames(pending))
	}
	for _, r := range rows {
		if r.App != "blog" {
			t.Errorf("expected app blog, got %q", r.App)
		}
		if r.AppliedAt.IsZero() {
			t.Errorf("step %s has zero applied_at", r.Name)
		}
	}
}

// TestMigrateAddsColumns registers an extended version of a type against a
// database migrated from the narrow version and checks the diff comes out
// as ALTER TABLE steps.
func TestMigrateAddsColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "x.db")

	narrow := NewRegistry()
	narrow.MustRegister(Definition{Name: "Note", Fields: []Field{Text("title")}})

	store, err := Open(ctx, narrow, Config{Path: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.Migrator("app").Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	wide := NewRegistry()
	wide.MustRegister(Definition{
		Name:   "Note",
		Fields: []Field{Text("title"), Text("body", Null()), Integer("stars", Null(), Default(0))},
	})

	store, err = Open(ctx, wide, Config{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	applied, err := store.Migrator("app").Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	names := stepNames(applied)
	if len(names) != 2 {
		t.Fatalf("expected 2 column steps, got %v", names)
	}
	for _, n := range names {
		if !strings.HasPrefix(n, "add_note_") {
			t.Errorf("unexpected step %s", n)
		}
	}

	// The widened table accepts inserts against the new columns.
	notes := store.MustManager("Note")
	if _, err := notes.InsertValues(ctx, Values{"title": "t", "body": "b", "stars": int64(3)}); err != nil {
		t.Errorf("insert after column add failed: %v", err)
	}
}

func TestMigratorDefaultApp(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, testRegistry(t), Config{
		Path: filepath.Join(t.TempDir(), "x.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	mi := store.Migrator("")
	if _, err := mi.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	rows, _, err := mi.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	for _, r := range rows {
		if r.App != "default" {
			t.Errorf("expected app default, got %q", r.App)
		}
	}
}

func TestCreateTableSQL(t *testing.T) {
	reg := testRegistry(t)
	m, err := reg.Model("Post")
	if err != nil {
		t.Fatalf("Model failed: %v", err)
	}

	sql, err := createTableSQL(m, reg)
	if err != nil {
		t.Fatalf("createTableSQL failed: %v", err)
	}

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS post",
		"id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL",
		"title TEXT NOT NULL",
		"rating INTEGER DEFAULT 0",
		"author_id INTEGER NOT NULL REFERENCES author(id) ON DELETE CASCADE",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q in %q", want, sql)
		}
	}
	if strings.Contains(sql, "tags") {
		t.Errorf("many-to-many field leaked into table DDL: %q", sql)
	}
}
