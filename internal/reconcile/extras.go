package reconcile

import (
	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

// FindExtraInstances returns an entry holding the installed instances of
// entry's package that nothing in entry accounts for, or nil.
//
// Install-only and key packages need an exact instance match. Normal packages
// only need a desired instance of the same architecture; a desired instance
// without an architecture, or a flat legacy entry, accounts for every arch.
func FindExtraInstances(policy ospackage.Policy, entry *ospackage.DesiredEntry, installed []ospackage.PackageInstance) *ospackage.DesiredEntry {
	log := logger.Logger()
	kind := policy.Resolve(entry)
	extra := &ospackage.DesiredEntry{Name: entry.Name, Kind: kind}

	for _, pkg := range installed {
		found := false
		for _, inst := range entry.Instances {
			if kind == ospackage.KindInstallOnly || kind == ospackage.KindGPGKey {
				found = ospackage.InstanceMatches(inst, pkg)
			} else {
				found = inst.Legacy || inst.Arch == "" || inst.Arch == pkg.Arch
			}
			if found {
				break
			}
		}
		if !found {
			log.Infof("Extra %s package instance %s %s", kind, entry.Name, pkg.EVRA())
			extra.Instances = append(extra.Instances, instanceOf(pkg))
		}
	}

	if len(extra.Instances) == 0 {
		return nil
	}
	return extra
}

// FindExtraPackages lists installed packages whose names entries never
// mention, one entry per name carrying every installed instance. The result
// is sorted by name and kept on st.
func (r *Reconciler) FindExtraPackages(st *State, entries []*ospackage.DesiredEntry) []*ospackage.DesiredEntry {
	log := logger.Logger()

	declared := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		declared[e.Name] = struct{}{}
	}

	var extras []*ospackage.DesiredEntry
	for _, name := range st.Names {
		if _, ok := declared[name]; ok {
			continue
		}
		installed := st.Installed[name]
		extra := &ospackage.DesiredEntry{Name: name, Kind: r.policy.KindFor(name)}
		for _, pkg := range installed {
			log.Debugf("Extra Package %s %s.", name, pkg.EVRA())
			inst := instanceOf(pkg)
			extra.Instances = append(extra.Instances, inst)
			extra.Actions = append(extra.Actions, ospackage.Action{Kind: ospackage.ActionExtra, Have: inst.EVRA()})
		}
		extra.CurrentVersion = evraList(installed)
		extra.QText = RenderPrompt(extra)
		extras = append(extras, extra)
	}
	st.ExtraPackages = extras
	return extras
}

func instanceOf(pkg ospackage.PackageInstance) *ospackage.DesiredInstance {
	inst := &ospackage.DesiredInstance{
		Version: pkg.Version,
		Release: pkg.Release,
		Arch:    pkg.Arch,
	}
	if pkg.Epoch != nil {
		e := *pkg.Epoch
		inst.Epoch = &e
	}
	return inst
}
