package ospackage

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
)

var DefaultInstallOnly = []string{
	"kernel", "kernel-bigmem", "kernel-enterprise", "kernel-smp",
	"kernel-modules", "kernel-debug", "kernel-unsupported",
	"kernel-source", "kernel-devel", "kernel-default",
	"kernel-largesmp-devel", "kernel-largesmp", "kernel-xen",
	KeyPackageName,
}

var DefaultEraseFlags = []string{"allmatches"}

// Policy carries the collaborator-resolved package class settings.
type Policy struct {
	InstallOnly map[string]struct{}
	EraseFlags  []string
}

// NewPolicy applies the defaults to the configured sets. A configured
// install-only list always includes the key package.
func NewPolicy(installOnly, eraseFlags []string) Policy {
	names := installOnly
	if len(names) == 0 {
		names = DefaultInstallOnly
	} else if !slices.Contains(names, KeyPackageName) {
		names = append(slices.Clone(names), KeyPackageName)
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[n] = struct{}{}
		}
	}
	flags := eraseFlags
	if len(flags) == 0 {
		flags = DefaultEraseFlags
	}
	return Policy{InstallOnly: set, EraseFlags: slices.Clone(flags)}
}

// IsInstallOnly reports whether several versions of name may coexist.
func (p Policy) IsInstallOnly(name string) bool {
	_, ok := p.InstallOnly[name]
	return ok
}

// KindFor classifies a package name.
func (p Policy) KindFor(name string) Kind {
	switch {
	case name == KeyPackageName:
		return KindGPGKey
	case p.IsInstallOnly(name):
		return KindInstallOnly
	default:
		return KindNormal
	}
}

// Resolve fills in an unspecified entry kind and returns it.
func (p Policy) Resolve(e *DesiredEntry) Kind {
	if e.Kind == KindUnspecified {
		e.Kind = ParseKind(e.KindName)
	}
	if e.Kind == KindUnspecified {
		e.Kind = p.KindFor(e.Name)
	}
	return e.Kind
}

var lastHandle atomic.Uint64

func nextHandle() Handle {
	return Handle(lastHandle.Add(1))
}

// Normalize converts a flat "version-release" entry into one synthetic
// instance and assigns handles to every instance that lacks one. It mutates
// and returns e; calling it again is a no-op.
func Normalize(e *DesiredEntry) (*DesiredEntry, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot normalize nil entry")
	}
	if len(e.Instances) == 0 {
		parts := strings.Split(e.Version, "-")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return e, &MalformedEntryError{Name: e.Name, Version: e.Version}
		}
		e.Instances = []*DesiredInstance{{
			Legacy:      true,
			Version:     parts[0],
			Release:     parts[1],
			Epoch:       cloneEpoch(e.Epoch),
			Arch:        e.Arch,
			SimpleFile:  e.SimpleFile,
			VerifyFlags: slices.Clone(e.VerifyFlags),
			Ignore:      slices.Clone(e.Ignore),
		}}
	}
	for _, inst := range e.Instances {
		if inst.Handle == 0 {
			inst.Handle = nextHandle()
		}
	}
	return e, nil
}

func cloneEpoch(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
