package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestActionHistoryNewestFirst(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := ActionRecord{
			Scheduler:   "actions",
			Category:    "install",
			Description: fmt.Sprintf("plugin p%d on https://a.example", i),
			State:       "succeeded",
			Completed:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordAction(rec); err != nil {
			t.Fatalf("RecordAction: %v", err)
		}
	}

	got, err := s.ListActions(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].Description != "plugin p4 on https://a.example" {
		t.Errorf("newest = %q", got[0].Description)
	}
}

func TestActionHistorySameInstant(t *testing.T) {
	s := testStore(t)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.RecordAction(ActionRecord{Description: "first", Completed: at})
	s.RecordAction(ActionRecord{Description: "second", Completed: at})

	got, _ := s.ListActions(10)
	if len(got) != 2 {
		t.Fatalf("got %d records, want both kept", len(got))
	}
	if got[0].Description != "second" {
		t.Errorf("newest = %q, want second", got[0].Description)
	}
}

func TestActionHistorySubSecondOrder(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.RecordAction(ActionRecord{Description: "first", Completed: base.Add(100 * time.Millisecond)})
	s.RecordAction(ActionRecord{Description: "second", Completed: base.Add(150 * time.Millisecond)})
	s.RecordAction(ActionRecord{Description: "third", Completed: base.Add(time.Second)})

	got, _ := s.ListActions(3)
	if len(got) != 3 || got[0].Description != "third" || got[1].Description != "second" || got[2].Description != "first" {
		t.Errorf("newest first = %+v", got)
	}

	if _, err := s.PruneActions(2); err != nil {
		t.Fatal(err)
	}
	got, _ = s.ListActions(3)
	if len(got) != 2 || got[1].Description != "second" {
		t.Errorf("after prune = %+v", got)
	}
}

func TestRecordActionStampsCompletion(t *testing.T) {
	s := testStore(t)
	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	s.RecordAction(ActionRecord{Description: "x"})

	got, _ := s.ListActions(1)
	if len(got) != 1 || !got[0].Completed.Equal(fixed) {
		t.Errorf("got %+v", got)
	}
}

func TestPruneActions(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		s.RecordAction(ActionRecord{Description: fmt.Sprint(i), Completed: base.Add(time.Duration(i) * time.Second)})
	}

	n, err := s.PruneActions(4)
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Errorf("removed %d, want 6", n)
	}
	got, _ := s.ListActions(100)
	if len(got) != 4 || got[3].Description != "6" {
		t.Errorf("remaining = %+v", got)
	}

	if n, _ := s.PruneActions(10); n != 0 {
		t.Errorf("second prune removed %d", n)
	}
}

func TestSuppression(t *testing.T) {
	s := testStore(t)
	dir := "/var/www/html/wp-content/plugins/akismet"

	if err := s.Suppress(dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Suppress(dir + "/"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{dir, true},
		{dir + "/akismet.php", true},
		{"/var/www/html/wp-content/plugins/akismet-extra/x.php", false},
		{"/var/www/html/wp-content/plugins", false},
	}
	for _, tt := range tests {
		got, err := s.IsSuppressed(tt.path)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("IsSuppressed(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	list, _ := s.ListSuppressed()
	if len(list) != 1 {
		t.Errorf("ListSuppressed() = %v, want one entry", list)
	}

	s.Unsuppress(dir)
	s.Unsuppress(dir)
	if ok, _ := s.IsSuppressed(dir + "/akismet.php"); ok {
		t.Error("still suppressed after Unsuppress")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := testStore(t)
	if v, err := s.LoadSetting("missing"); err != nil || v != "" {
		t.Errorf("LoadSetting(missing) = %q, %v", v, err)
	}
	s.SaveSetting("last_core_update", "2026-05-01T03:12:00Z")
	s.SaveSetting("paused", "false")

	if v, _ := s.LoadSetting("last_core_update"); v != "2026-05-01T03:12:00Z" {
		t.Errorf("LoadSetting = %q", v)
	}
	all, _ := s.AllSettings()
	if len(all) != 2 {
		t.Errorf("AllSettings() = %v", all)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Suppress("/srv/wp-content/themes/x")
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if ok, _ := s.IsSuppressed("/srv/wp-content/themes/x"); !ok {
		t.Error("suppression lost across reopen")
	}
}
