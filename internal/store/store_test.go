package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	ref := Ref{Doc: "Main.WebHome", Locale: "en"}

	if _, err := s.Reload(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	rev, err := s.Save(ctx, ref, `["BODY",{},["one"]]`, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if rev.Version != FirstVersion {
		t.Errorf("first version is %q", rev.Version)
	}

	if _, err := s.Save(ctx, ref, "again", "bob", ""); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("creating twice should conflict, got %v", err)
	}

	rev2, err := s.Save(ctx, ref, `["BODY",{},["two"]]`, "bob", rev.Version)
	if err != nil {
		t.Fatal(err)
	}
	if rev2.Version != "1.2" {
		t.Errorf("second version is %q", rev2.Version)
	}

	if _, err := s.Save(ctx, ref, "stale", "alice", rev.Version); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale save should conflict, got %v", err)
	}

	got, err := s.Reload(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != rev2.Content || got.Version != rev2.Version || got.Author != "bob" {
		t.Errorf("reloaded %+v, saved %+v", got, rev2)
	}
	if !got.Modified.Equal(rev2.Modified) {
		t.Errorf("modified %v should be %v", got.Modified, rev2.Modified)
	}

	other := Ref{Doc: "Main.WebHome", Locale: "fr"}
	if _, err := s.Reload(ctx, other); !errors.Is(err, ErrNotFound) {
		t.Errorf("locales are separate documents, got %v", err)
	}
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestBolt(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background())
	testStore(t, s)
}

func TestMongo(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := OpenMongo(ctx, uri, "hyperpad_test")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(ctx)
	s.docs.Drop(ctx)
	testStore(t, s)
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(ctx)
	s.pool.Exec(ctx, `DELETE FROM documents WHERE doc = 'Main.WebHome'`)
	testStore(t, s)
}

func TestVersions(t *testing.T) {
	tests := []struct {
		a, b string
		cmp  int
	}{
		{"1.1", "1.1", 0},
		{"1.2", "1.10", -1},
		{"2.1", "1.9", 1},
		{"", "0.0", 0},
		{"1.1", "", 1},
	}
	for _, test := range tests {
		if got := CompareVersions(test.a, test.b); got != test.cmp {
			t.Errorf("CompareVersions(%q, %q) = %d, expected %d", test.a, test.b, got, test.cmp)
		}
	}

	if v := NextVersion("1.9"); v != "1.10" {
		t.Errorf("NextVersion(1.9) = %q", v)
	}
}
