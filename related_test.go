package recordset

import (
	"context"
	"errors"
	"testing"
)

func seedPostWithTags(t *testing.T, store *Store) (*Instance, []*Instance) {
	t.Helper()
	ctx := context.Background()

	authors := store.MustManager("Author")
	posts := store.MustManager("Post")
	tags := store.MustManager("Tag")

	author, err := authors.InsertValues(ctx, Values{"name": "Ada", "email": "a@example.com"})
	if err != nil {
		t.Fatalf("insert author failed: %v", err)
	}
	post, err := posts.InsertValues(ctx, Values{"title": "intro", "author": author[0]})
	if err != nil {
		t.Fatalf("insert post failed: %v", err)
	}
	tagRows, err := tags.InsertValues(ctx,
		Values{"label": "go"},
		Values{"label": "sql"},
		Values{"label": "orm"},
	)
	if err != nil {
		t.Fatalf("insert tags failed: %v", err)
	}
	return post[0], tagRows
}

func TestRelatedFetchAndCache(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	post, _ := seedPostWithTags(t, store)

	// Reload the post so the cache starts cold.
	posts := store.MustManager("Post")
	loaded, err := posts.Get(ctx, Eq("id", post.ID()))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	author, err := loaded.Related(ctx, "author")
	if err != nil {
		t.Fatalf("Related failed: %v", err)
	}
	if name, _ := author.Get("name"); name != "Ada" {
		t.Errorf("expected Ada, got %v", name)
	}

	// Second call hits the cache and returns the same object.
	again, err := loaded.Related(ctx, "author")
	if err != nil {
		t.Fatalf("Related failed: %v", err)
	}
	if again != author {
		t.Error("expected cached instance on second call")
	}

	loaded.Invalidate("author")
	fresh, err := loaded.Related(ctx, "author")
	if err != nil {
		t.Fatalf("Related after Invalidate failed: %v", err)
	}
	if fresh == author {
		t.Error("expected a re-fetched instance after Invalidate")
	}
}

func TestRelatedNullForeignKey(t *testing.T) {
	ctx := context.Background()

	reg := NewRegistry()
	reg.MustRegister(Definition{Name: "Team", Fields: []Field{Text("name")}})
	reg.MustRegister(Definition{
		Name:   "Player",
		Fields: []Field{Text("name"), ForeignKey("team", "Team", Null())},
	})

	store, err := Open(ctx, reg, Config{Path: t.TempDir() + "/x.db"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	if _, err := store.Migrator("test").Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	players := store.MustManager("Player")
	row, err := players.InsertValues(ctx, Values{"name": "solo"})
	if err != nil {
		t.Fatalf("InsertValues failed: %v", err)
	}

	got, err := row[0].Related(ctx, "team")
	if err != nil {
		t.Fatalf("Related failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for NULL foreign key, got %v", got)
	}
}

func TestRelatedRejectsNonRelation(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	post, _ := seedPostWithTags(t, store)

	if _, err := post.Related(ctx, "title"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := post.Related(ctx, "tags"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for many-to-many, got %v", err)
	}
}

func TestManyRequiresSavedInstance(t *testing.T) {
	store := testStore(t)
	posts := store.MustManager("Post")

	unsaved, err := posts.New(Values{"title": "draft"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := unsaved.Many("tags"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestManyToManyLinks(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	post, tags := seedPostWithTags(t, store)

	many, err := post.Many("tags")
	if err != nil {
		t.Fatalf("Many failed: %v", err)
	}

	t.Run("add and list", func(t *testing.T) {
		if err := many.Add(ctx, tags[0], tags[1]); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		linked, err := many.All(ctx)
		if err != nil {
			t.Fatalf("All failed: %v", err)
		}
		if len(linked) != 2 {
			t.Fatalf("expected 2 linked tags, got %d", len(linked))
		}
	})

	t.Run("add is idempotent", func(t *testing.T) {
		if err := many.Add(ctx, tags[0]); err != nil {
			t.Fatalf("re-Add failed: %v", err)
		}
		n, err := many.Query().Count(ctx)
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 links after duplicate add, got %d", n)
		}
	})

	t.Run("filter linked rows", func(t *testing.T) {
		got, err := many.Filter(Eq("label", "go")).All(ctx)
		if err != nil {
			t.Fatalf("Filter failed: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 row, got %d", len(got))
		}
		if label, _ := got[0].Get("label"); label != "go" {
			t.Errorf("expected go, got %v", label)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if err := many.Remove(ctx, tags[1]); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		// Removing an unlinked target is a no-op.
		if err := many.Remove(ctx, tags[2]); err != nil {
			t.Fatalf("Remove of unlinked target failed: %v", err)
		}
		n, _ := many.Query().Count(ctx)
		if n != 1 {
			t.Errorf("expected 1 link, got %d", n)
		}
	})

	t.Run("set reconciles", func(t *testing.T) {
		if err := many.Set(ctx, []*Instance{tags[1], tags[2]}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		linked, err := many.All(ctx)
		if err != nil {
			t.Fatalf("All failed: %v", err)
		}
		got := map[string]bool{}
		for _, inst := range linked {
			label, _ := inst.Get("label")
			got[label.(string)] = true
		}
		if len(got) != 2 || !got["sql"] || !got["orm"] {
			t.Errorf("expected {sql, orm}, got %v", got)
		}
	})

	t.Run("clear", func(t *testing.T) {
		if err := many.Clear(ctx); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		n, _ := many.Query().Count(ctx)
		if n != 0 {
			t.Errorf("expected 0 links after Clear, got %d", n)
		}
	})
}

func TestManyRejectsWrongTargetType(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	post, _ := seedPostWithTags(t, store)

	authors := store.MustManager("Author")
	wrong, err := authors.Get(ctx, Eq("name", "Ada"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	many, err := post.Many("tags")
	if err != nil {
		t.Fatalf("Many failed: %v", err)
	}
	if err := many.Add(ctx, wrong); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

// Links on one side do not leak to another source instance.
func TestManyToManyScopedToSource(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	post, tags := seedPostWithTags(t, store)

	posts := store.MustManager("Post")
	author, err := post.Related(ctx, "author")
	if err != nil {
		t.Fatalf("Related failed: %v", err)
	}
	other, err := posts.InsertValues(ctx, Values{"title": "second", "author": author})
	if err != nil {
		t.Fatalf("InsertValues failed: %v", err)
	}

	firstMany, _ := post.Many("tags")
	if err := firstMany.Add(ctx, tags[0]); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	otherMany, _ := other[0].Many("tags")
	n, err := otherMany.Query().Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no links on the second post, got %d", n)
	}
}
