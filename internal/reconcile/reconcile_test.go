package reconcile

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
)

func TestRunConverges(t *testing.T) {
	fb := newFakeBackend(
		installedPkg("bar", "1.0", "1", "x86_64"),
		installedPkg("baz", "1.0", "1", "x86_64"),
		installedPkg("kernel", "5.0", "1", "x86_64"),
		installedPkg("qux", "1.0", "1", "x86_64"),
		installedPkg("qux", "1.0", "1", "i686"),
	)
	fb.verifyResults["baz-*:1.0-1.x86_64"] = []ospackage.VerifyResult{{Files: []ospackage.FileResult{
		{Attributes: "S.5....T.", Type: ospackage.FileTypeNone, Path: "/usr/bin/baz"},
	}}}

	entries := []*ospackage.DesiredEntry{
		entryFor("bar", desired("2.0", "1", "x86_64")),
		entryFor("baz", desired("1.0", "1", "x86_64")),
		entryFor("kernel", desired("5.0", "1", "x86_64"), desired("5.1", "1", "x86_64")),
		entryFor("qux", desired("1.0", "1", "x86_64")),
		entryFor(ospackage.KeyPackageName, &ospackage.DesiredInstance{Version: "ccccdddd", Release: "5f000000", SimpleFile: "RPM-GPG-KEY-test"}),
		entryFor("foo", desired("1.0", "1", "x86_64")),
	}
	for _, e := range entries {
		fb.addArtifacts(e)
	}

	r := New(fb, ospackage.NewPolicy(nil, nil))
	var events []ProgressEvent
	report, err := r.Run(context.Background(), entries, RunOptions{Progress: func(ev ProgressEvent) { events = append(events, ev) }})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Err != nil {
		t.Fatalf("unexpected pass errors: %v", report.Errors)
	}
	if !report.Converged() {
		t.Fatalf("expected every entry to converge: %+v", report.Entries)
	}
	if report.ID == "" || report.Finished.Before(report.Started) {
		t.Errorf("bad report bookkeeping: %+v", report)
	}
	if len(events) != 4 {
		t.Errorf("expected four progress events, got %d", len(events))
	}

	modified := slices.Clone(report.Modified)
	slices.Sort(modified)
	want := []string{"bar", "baz", "foo", ospackage.KeyPackageName, "kernel", "qux"}
	if !reflect.DeepEqual(modified, want) {
		t.Errorf("Modified = %v, want %v", modified, want)
	}
	if len(fb.installCalls) != 1 || len(fb.importCalls) != 1 || len(fb.upgradeCalls) != 1 || len(fb.eraseCalls) != 1 {
		t.Errorf("unexpected transactions: install=%v import=%v upgrade=%v erase=%v",
			fb.installCalls, fb.importCalls, fb.upgradeCalls, fb.eraseCalls)
	}

	// A fresh snapshot must agree.
	st, err := r.NewState(context.Background())
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}
	for _, e := range entries {
		ok, err := r.Verify(context.Background(), st, e, nil)
		if err != nil || !ok {
			t.Errorf("entry %s did not stay converged: %v, %v (%s)", e.Name, ok, err, e.QText)
		}
	}
}

func TestRunDryRun(t *testing.T) {
	fb := newFakeBackend()
	bad := &ospackage.DesiredEntry{Name: "legacy", Version: "1.0"}
	bar := entryFor("bar", desired("1.0", "1", "x86_64"))
	fb.addArtifacts(bar)

	r := New(fb, ospackage.NewPolicy(nil, nil))
	report, err := r.Run(context.Background(), []*ospackage.DesiredEntry{bad, bar}, RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(fb.installCalls)+len(fb.upgradeCalls)+len(fb.importCalls)+len(fb.eraseCalls) != 0 {
		t.Fatal("dry run must not touch the host")
	}
	var me *ospackage.MalformedEntryError
	if !errors.As(report.Err, &me) || me.Name != "legacy" {
		t.Errorf("expected malformed entry error, got %v", report.Err)
	}
	if len(report.Entries) != 2 {
		t.Fatalf("expected two entry reports, got %d", len(report.Entries))
	}
	if report.Entries[0].Error == "" || report.Entries[0].Converged {
		t.Errorf("malformed entry report: %+v", report.Entries[0])
	}
	got := report.Entries[1]
	if got.Converged || got.QText == "" || !reflect.DeepEqual(got.Tags, []string{"I(*:1.0-1.x86_64)"}) {
		t.Errorf("unexpected report for bar: %+v", got)
	}
	if !report.DryRun || report.Converged() {
		t.Errorf("unexpected report flags: %+v", report)
	}
}

func TestRunConfirm(t *testing.T) {
	fb := newFakeBackend()
	a := entryFor("a", desired("1.0", "1", "x86_64"))
	b := entryFor("b", desired("1.0", "1", "x86_64"))
	fb.addArtifacts(a)
	fb.addArtifacts(b)

	r := New(fb, ospackage.NewPolicy(nil, nil))
	var asked []string
	report, err := r.Run(context.Background(), []*ospackage.DesiredEntry{a, b}, RunOptions{
		Confirm: func(e *ospackage.DesiredEntry) bool {
			asked = append(asked, e.Name)
			return e.Name == "b"
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !reflect.DeepEqual(asked, []string{"a", "b"}) {
		t.Errorf("asked about %v", asked)
	}
	if !reflect.DeepEqual(fb.upgradeCalls, [][]string{{b.ArtifactPath(b.Instances[0])}}) {
		t.Errorf("only b should be upgraded, got %v", fb.upgradeCalls)
	}
	if report.Entries[0].Converged || !report.Entries[1].Converged || !report.Entries[1].Modified {
		t.Errorf("unexpected entries %+v", report.Entries)
	}
}

func TestRunConfirmKeepsDeclinedExtraInstances(t *testing.T) {
	fb := newFakeBackend(
		installedPkg("foo", "1.0", "1", "x86_64"),
		installedPkg("foo", "1.0", "1", "i386"),
		installedPkg("bar", "1.0", "1", "x86_64"),
	)
	foo := entryFor("foo", desired("1.0", "1", "x86_64"))
	bar := entryFor("bar", desired("2.0", "1", "x86_64"))
	fb.addArtifacts(foo)
	fb.addArtifacts(bar)

	r := New(fb, ospackage.NewPolicy(nil, nil))
	report, err := r.Run(context.Background(), []*ospackage.DesiredEntry{foo, bar}, RunOptions{
		Confirm: func(e *ospackage.DesiredEntry) bool { return e.Name == "bar" },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(fb.eraseCalls) != 0 {
		t.Errorf("declined entry foo must keep its extra instance, erase calls: %v", fb.eraseCalls)
	}
	if !reflect.DeepEqual(fb.upgradeCalls, [][]string{{bar.ArtifactPath(bar.Instances[0])}}) {
		t.Errorf("only bar should be upgraded, got %v", fb.upgradeCalls)
	}
	if report.Entries[0].Converged || report.Entries[0].Modified {
		t.Errorf("foo should stay diverged and untouched: %+v", report.Entries[0])
	}
	if !report.Entries[1].Converged {
		t.Errorf("bar should converge: %+v", report.Entries[1])
	}
}

func TestRunRemoveUnmanaged(t *testing.T) {
	fb := newFakeBackend(
		installedPkg("bash", "5.1", "2", "x86_64"),
		installedPkg("vim", "9.0", "1", "x86_64"),
		installedPkg("kernel", "4.0", "1", "x86_64"),
		ospackage.PackageInstance{Name: ospackage.KeyPackageName, Version: "ccccdddd", Release: "5f000000"},
	)
	r := New(fb, ospackage.NewPolicy(nil, nil))
	bash := &ospackage.DesiredEntry{Name: "bash", Version: "5.1-2"}

	report, err := r.Run(context.Background(), []*ospackage.DesiredEntry{bash}, RunOptions{RemoveUnmanaged: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(fb.eraseCalls) != 1 || len(fb.eraseCalls[0]) != 1 || fb.eraseCalls[0][0].Name != "vim" {
		t.Fatalf("only vim should be erased, got %v", fb.eraseCalls)
	}
	if !reflect.DeepEqual(report.ExtraPackages, []string{ospackage.KeyPackageName, "kernel"}) {
		t.Errorf("ExtraPackages = %v", report.ExtraPackages)
	}
	if !reflect.DeepEqual(report.Modified, []string{"vim"}) {
		t.Errorf("Modified = %v", report.Modified)
	}
	if !report.Converged() {
		t.Errorf("bash should be converged: %+v", report.Entries)
	}
}

func TestRunQueryFailureIsFatal(t *testing.T) {
	fb := newFakeBackend()
	fb.queryErr = errors.New("rpmdb open failed")
	r := New(fb, ospackage.NewPolicy(nil, nil))

	report, err := r.Run(context.Background(), []*ospackage.DesiredEntry{entryFor("a", desired("1.0", "1", "x86_64"))}, RunOptions{})
	if err == nil || !ospackage.IsPassFatal(err) {
		t.Fatalf("expected a pass-fatal error, got %v", err)
	}
	if report == nil || report.Err == nil || len(report.Entries) != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestRunContentModifiedExemption(t *testing.T) {
	fb := newFakeBackend(installedPkg("foo", "1.0", "1", "x86_64"))
	fb.verifyResults["foo-*:1.0-1.x86_64"] = []ospackage.VerifyResult{{Files: []ospackage.FileResult{
		{Attributes: "S.5....T.", Type: ospackage.FileTypeNone, Path: "/usr/lib/foo/generated"},
	}}}
	foo := entryFor("foo", desired("1.0", "1", "x86_64"))
	fb.addArtifacts(foo)
	r := New(fb, ospackage.NewPolicy(nil, nil))

	report, err := r.Run(context.Background(), []*ospackage.DesiredEntry{foo}, RunOptions{ContentModified: []string{"/usr/lib/foo/generated"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.Converged() || len(fb.upgradeCalls) != 0 {
		t.Errorf("exempted content change should not trigger remediation: %+v", report.Entries)
	}
}
