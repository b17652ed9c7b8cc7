package history

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/open-edge-platform/os-package-reconciler/internal/reconcile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	first := &reconcile.PassReport{
		ID:       "pass-1",
		Started:  base,
		Finished: base.Add(time.Second),
		Entries: []reconcile.EntryReport{
			{Name: "bash", Kind: "normal", Converged: true},
			{Name: "kernel", Kind: "install-only", Converged: true, Modified: true, Tags: []string{"I(*:5.14-2.x86_64)"}},
		},
		Modified: []string{"kernel"},
	}
	second := &reconcile.PassReport{
		ID:       "pass-2",
		Started:  base.Add(time.Hour),
		Finished: base.Add(time.Hour + time.Second),
		DryRun:   true,
		Entries:  []reconcile.EntryReport{{Name: "vim", Kind: "normal", Error: "boom"}},
		Errors:   []string{"boom"},
		Err:      errors.New("boom"),
	}
	for _, r := range []*reconcile.PassReport{first, second} {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record(%s) failed: %v", r.ID, err)
		}
	}

	passes, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(passes) != 2 || passes[0].ID != "pass-2" || passes[1].ID != "pass-1" {
		t.Fatalf("expected newest first, got %+v", passes)
	}
	if !passes[0].DryRun || passes[0].Converged || !reflect.DeepEqual(passes[0].Errors, []string{"boom"}) {
		t.Errorf("unexpected second pass %+v", passes[0])
	}
	if !passes[1].Converged || passes[1].Entries != 2 || !reflect.DeepEqual(passes[1].Modified, []string{"kernel"}) {
		t.Errorf("unexpected first pass %+v", passes[1])
	}
	if !passes[1].Started.Equal(base) {
		t.Errorf("start time not preserved: %v", passes[1].Started)
	}

	limited, err := s.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("List(1) = %v, %v", limited, err)
	}

	entries, err := s.Entries(ctx, "pass-1")
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	want := []EntryRecord{
		{Name: "bash", Kind: "normal", Converged: true, Actions: []string{}},
		{Name: "kernel", Kind: "install-only", Converged: true, Modified: true, Actions: []string{"I(*:5.14-2.x86_64)"}},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Entries() = %+v, want %+v", entries, want)
	}
}

func TestRecordDuplicateRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := &reconcile.PassReport{ID: "dup", Started: time.Now(), Finished: time.Now(),
		Entries: []reconcile.EntryReport{{Name: "a", Kind: "normal"}}}

	if err := s.Record(ctx, r); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(ctx, r); err == nil {
		t.Fatal("expected duplicate pass id to fail")
	}
	entries, err := s.Entries(ctx, "dup")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected the first record to stay intact, got %v, %v", entries, err)
	}
	if err := s.Record(ctx, &reconcile.PassReport{}); err == nil {
		t.Error("expected a report without id to be rejected")
	}
}

func TestCloseNil(t *testing.T) {
	var s *Store
	if err := s.Close(); err != nil {
		t.Fatalf("Close on nil store: %v", err)
	}
}
