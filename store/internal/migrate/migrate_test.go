package migrate_test

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/xraph/workpool/store/internal/migrate"
)

type fakeRecorder struct {
	inits   int
	applied []string
	seen    map[string]bool
	failOn  string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{seen: make(map[string]bool)}
}

func (r *fakeRecorder) Init(context.Context) error {
	r.inits++
	return nil
}

func (r *fakeRecorder) Applied(_ context.Context, name string) (bool, error) {
	return r.seen[name], nil
}

func (r *fakeRecorder) Apply(_ context.Context, m migrate.Migration) error {
	if m.Name == r.failOn {
		return errors.New("syntax error")
	}
	r.seen[m.Name] = true
	r.applied = append(r.applied, m.Name)
	return nil
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"migrations/002_add_index.sql":    {Data: []byte("CREATE INDEX b;")},
		"migrations/001_create_items.sql": {Data: []byte("CREATE TABLE a;")},
		"migrations/README.md":            {Data: []byte("not sql")},
		"migrations/010_later.sql":        {Data: []byte("ALTER TABLE a;")},
	}
}

func TestLoad_SortsAndFilters(t *testing.T) {
	ms, err := migrate.Load(testFS(), "migrations")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"001_create_items.sql", "002_add_index.sql", "010_later.sql"}
	if len(ms) != len(want) {
		t.Fatalf("got %d migrations, want %d", len(ms), len(want))
	}
	for i, m := range ms {
		if m.Name != want[i] {
			t.Errorf("migration %d = %s, want %s", i, m.Name, want[i])
		}
	}
	if ms[0].SQL != "CREATE TABLE a;" {
		t.Errorf("SQL = %q", ms[0].SQL)
	}
}

func TestLoad_MissingDir(t *testing.T) {
	if _, err := migrate.Load(fstest.MapFS{}, "migrations"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestRun_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	r := newFakeRecorder()

	n, err := migrate.Run(ctx, testFS(), "migrations", r, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 3 {
		t.Fatalf("applied %d, want 3", n)
	}
	if r.applied[0] != "001_create_items.sql" || r.applied[2] != "010_later.sql" {
		t.Errorf("order = %v", r.applied)
	}

	n, err = migrate.Run(ctx, testFS(), "migrations", r, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n != 0 {
		t.Errorf("second run applied %d, want 0", n)
	}
	if r.inits != 2 {
		t.Errorf("Init called %d times, want 2", r.inits)
	}
}

func TestRun_StopsAtFailure(t *testing.T) {
	r := newFakeRecorder()
	r.failOn = "002_add_index.sql"

	n, err := migrate.Run(context.Background(), testFS(), "migrations", r, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 1 {
		t.Errorf("applied %d before failing, want 1", n)
	}
	if r.seen["010_later.sql"] {
		t.Error("migration after the failure must not run")
	}
}
