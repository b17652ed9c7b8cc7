package reconcile

import (
	"context"
	"fmt"
	"slices"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
)

type verifyCall struct {
	pkg   ospackage.PackageInstance
	flags []string
}

// fakeBackend is an in-memory package database. Artifacts map install paths to
// the package they carry; failPaths make any transaction that includes them fail.
type fakeBackend struct {
	installed     []ospackage.PackageInstance
	artifacts     map[string]ospackage.PackageInstance
	failPaths     map[string]bool
	verifyResults map[string][]ospackage.VerifyResult
	eraseFail     map[string]bool
	queryErr      error

	verifyCalls  []verifyCall
	installCalls [][]string
	upgradeCalls [][]string
	eraseCalls   [][]ospackage.EraseSpec
	importCalls  []string
}

func newFakeBackend(installed ...ospackage.PackageInstance) *fakeBackend {
	return &fakeBackend{
		installed:     installed,
		artifacts:     map[string]ospackage.PackageInstance{},
		failPaths:     map[string]bool{},
		verifyResults: map[string][]ospackage.VerifyResult{},
		eraseFail:     map[string]bool{},
	}
}

func pkgKey(p ospackage.PackageInstance) string {
	return p.Name + "-" + p.EVRA()
}

func (f *fakeBackend) QueryInstalled(ctx context.Context) ([]ospackage.PackageInstance, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return slices.Clone(f.installed), nil
}

func (f *fakeBackend) Verify(ctx context.Context, inst ospackage.PackageInstance, suppress []string) ([]ospackage.VerifyResult, error) {
	f.verifyCalls = append(f.verifyCalls, verifyCall{pkg: inst, flags: slices.Clone(suppress)})
	if res, ok := f.verifyResults[pkgKey(inst)]; ok {
		return slices.Clone(res), nil
	}
	return []ospackage.VerifyResult{{NEVRA: pkgKey(inst)}}, nil
}

func (f *fakeBackend) check(op string, paths []string) error {
	for _, p := range paths {
		if f.failPaths[p] {
			return &ospackage.ActionFailure{Op: op, Target: p, ExitCode: 1}
		}
		if _, ok := f.artifacts[p]; !ok {
			return &ospackage.ActionFailure{Op: op, Target: p, ExitCode: 1, Err: fmt.Errorf("no such artifact")}
		}
	}
	return nil
}

func (f *fakeBackend) Install(ctx context.Context, paths []string, opts ospackage.TransactionOptions) (string, error) {
	f.installCalls = append(f.installCalls, slices.Clone(paths))
	if err := f.check("install", paths); err != nil {
		return "", err
	}
	for _, p := range paths {
		pkg := f.artifacts[p]
		f.remove(func(i ospackage.PackageInstance) bool { return pkgKey(i) == pkgKey(pkg) })
		delete(f.verifyResults, pkgKey(pkg))
		f.installed = append(f.installed, pkg)
	}
	return "", nil
}

func (f *fakeBackend) Upgrade(ctx context.Context, paths []string, opts ospackage.TransactionOptions) (string, error) {
	f.upgradeCalls = append(f.upgradeCalls, slices.Clone(paths))
	if err := f.check("upgrade", paths); err != nil {
		return "", err
	}
	for _, p := range paths {
		pkg := f.artifacts[p]
		f.remove(func(i ospackage.PackageInstance) bool { return i.Name == pkg.Name && i.Arch == pkg.Arch })
		delete(f.verifyResults, pkgKey(pkg))
		f.installed = append(f.installed, pkg)
	}
	return "", nil
}

func specMatches(s ospackage.EraseSpec, p ospackage.PackageInstance) bool {
	if s.Name != p.Name {
		return false
	}
	if s.Version != "" && (s.Version != p.Version || s.Release != p.Release || s.Arch != p.Arch || !ospackage.EpochEqual(s.Epoch, p.Epoch)) {
		return false
	}
	return true
}

func (f *fakeBackend) Erase(ctx context.Context, specs []ospackage.EraseSpec, flags []string) []ospackage.EraseFailure {
	f.eraseCalls = append(f.eraseCalls, slices.Clone(specs))
	var failures []ospackage.EraseFailure
	for _, s := range specs {
		if f.eraseFail[s.String()] {
			failures = append(failures, ospackage.EraseFailure{Spec: s, Reason: "dependency"})
		}
	}
	if len(failures) > 0 {
		return failures
	}
	for _, s := range specs {
		f.remove(func(i ospackage.PackageInstance) bool { return specMatches(s, i) })
	}
	return nil
}

func (f *fakeBackend) ImportKey(ctx context.Context, path string) (string, error) {
	f.importCalls = append(f.importCalls, path)
	if err := f.check("import", []string{path}); err != nil {
		return "", err
	}
	f.installed = append(f.installed, f.artifacts[path])
	return "", nil
}

func (f *fakeBackend) QueryByAttribute(ctx context.Context, attr, value string) ([]ospackage.HeaderRecord, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []ospackage.HeaderRecord
	for _, p := range f.installed {
		if attr == "name" && p.Name == value {
			out = append(out, ospackage.HeaderRecord{Name: p.Name, Version: p.Version, Release: p.Release})
		}
	}
	return out, nil
}

func (f *fakeBackend) remove(match func(ospackage.PackageInstance) bool) {
	f.installed = slices.DeleteFunc(f.installed, match)
}

func (f *fakeBackend) verifiedNames() []string {
	var names []string
	for _, c := range f.verifyCalls {
		names = append(names, c.pkg.Name)
	}
	return names
}
