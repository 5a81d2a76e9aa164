package database

import (
	"testing"
	"testing/fstest"
)

func TestMigrationVersion(t *testing.T) {
	cases := []struct {
		name string
		want int
		ok   bool
	}{
		{"001_video_tracking.sql", 1, true},
		{"012_alerts_index.sql", 12, true},
		{"000_bad.sql", 0, false},
		{"README.md", 0, false},
		{"abc_thing.sql", 0, false},
		{"002.sql", 0, false},
	}
	for _, tc := range cases {
		got, ok := migrationVersion(tc.name)
		if got != tc.want || ok != tc.ok {
			t.Errorf("%s: expected (%d, %v), got (%d, %v)", tc.name, tc.want, tc.ok, got, ok)
		}
	}
}

func TestPendingMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":          {Data: []byte("SELECT 1")},
		"002_second.sql":         {Data: []byte("SELECT 1")},
		"001_video_tracking.sql": {Data: []byte("SELECT 1")},
		"notes.txt":              {Data: []byte("ignored")},
	}
	got, err := pendingMigrations(fsys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0].version != 1 || got[1].version != 2 || got[2].version != 10 {
		t.Errorf("unexpected order %+v", got)
	}
}

func TestPendingMigrationsRejectsDuplicates(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1")},
		"001_b.sql": {Data: []byte("SELECT 1")},
	}
	if _, err := pendingMigrations(fsys); err == nil {
		t.Errorf("expected duplicate versions to fail")
	}
}
