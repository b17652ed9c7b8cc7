package reconcile

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

func intp(v int) *int { return &v }

func installedPkg(name, version, release, arch string) ospackage.PackageInstance {
	return ospackage.PackageInstance{Name: name, Version: version, Release: release, Arch: arch, GPGKeyID: ospackage.UntrustedKeyID}
}

func desired(version, release, arch string) *ospackage.DesiredInstance {
	return &ospackage.DesiredInstance{Version: version, Release: release, Arch: arch}
}

func entryFor(name string, insts ...*ospackage.DesiredInstance) *ospackage.DesiredEntry {
	for _, i := range insts {
		if i.SimpleFile == "" {
			i.SimpleFile = fmt.Sprintf("%s-%s-%s.%s.rpm", name, i.Version, i.Release, i.Arch)
		}
	}
	return &ospackage.DesiredEntry{Name: name, URI: "/repo", Instances: insts}
}

// addArtifacts makes every instance of e installable.
func (f *fakeBackend) addArtifacts(e *ospackage.DesiredEntry) {
	for _, inst := range e.Instances {
		f.artifacts[e.ArtifactPath(inst)] = ospackage.PackageInstance{
			Name:     e.Name,
			Epoch:    inst.Epoch,
			Version:  inst.Version,
			Release:  inst.Release,
			Arch:     inst.Arch,
			GPGKeyID: ospackage.UntrustedKeyID,
		}
	}
}

func newTestState(t *testing.T, fb *fakeBackend) (*Reconciler, *State) {
	t.Helper()
	r := New(fb, ospackage.NewPolicy(nil, nil))
	st, err := r.NewState(context.Background())
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}
	return r, st
}

func observeWarnings(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	logger.Set(zap.New(core).Sugar())
	t.Cleanup(func() { logger.Set(nil) })
	return logs
}

func entryNames(entries []*ospackage.DesiredEntry) []string {
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}
