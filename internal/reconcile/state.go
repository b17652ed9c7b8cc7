package reconcile

import (
	"slices"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/general/slice"
)

// InstanceStatus is the verification verdict for one desired instance.
type InstanceStatus struct {
	Installed     bool
	VersionFail   bool
	VerifyFail    bool
	VerifyResults []ospackage.VerifyResult
	Entry         *ospackage.DesiredEntry
	Instance      *ospackage.DesiredInstance
	// Modlist holds the files that failed content verification.
	Modlist []string
	// ContentModified is the exemption list this verdict was computed with.
	ContentModified []string
	Matched         *ospackage.PackageInstance
	Suppressed      []string
}

// OK reports whether the instance is installed at the right version and verifies.
func (s *InstanceStatus) OK() bool {
	return s.Installed && !s.VersionFail && !s.VerifyFail
}

// State is everything one reconciliation pass knows. It is discarded at pass end.
type State struct {
	// Installed groups installed records by name in backend order.
	Installed map[string][]ospackage.PackageInstance
	// Names lists Installed keys in sorted order.
	Names       []string
	TrustedKeys map[string]struct{}
	Status      map[ospackage.Handle]*InstanceStatus
	Converged   map[*ospackage.DesiredEntry]bool

	ExtraPackages []*ospackage.DesiredEntry
	Modified      []*ospackage.DesiredEntry
	Anomalies     []ospackage.AnomalyWarning

	extraInstances map[string]*ospackage.DesiredEntry
	modifiedSet    map[*ospackage.DesiredEntry]struct{}
	document       []*ospackage.DesiredEntry
	progress       func(ProgressEvent)
}

func newState() *State {
	return &State{
		Installed:      map[string][]ospackage.PackageInstance{},
		TrustedKeys:    map[string]struct{}{ospackage.UntrustedKeyID: {}},
		Status:         map[ospackage.Handle]*InstanceStatus{},
		Converged:      map[*ospackage.DesiredEntry]bool{},
		extraInstances: map[string]*ospackage.DesiredEntry{},
		modifiedSet:    map[*ospackage.DesiredEntry]struct{}{},
	}
}

func (st *State) setInstalled(pkgs []ospackage.PackageInstance) {
	installed := make(map[string][]ospackage.PackageInstance)
	for _, p := range pkgs {
		installed[p.Name] = append(installed[p.Name], p)
	}
	st.Installed = installed
	st.Names = slice.SortedKeys(installed)
}

// Trusted reports whether the trailing key id bytes are a known signing key.
func (st *State) Trusted(keyID string) bool {
	_, ok := st.TrustedKeys[ospackage.ShortKeyID(keyID)]
	return ok
}

// ExtraInstances returns the unmanaged-instance worklist sorted by name.
func (st *State) ExtraInstances() []*ospackage.DesiredEntry {
	out := make([]*ospackage.DesiredEntry, 0, len(st.extraInstances))
	for _, name := range slice.SortedKeys(st.extraInstances) {
		out = append(out, st.extraInstances[name])
	}
	return out
}

func (st *State) markModified(e *ospackage.DesiredEntry) {
	if _, ok := st.modifiedSet[e]; ok {
		return
	}
	st.modifiedSet[e] = struct{}{}
	st.Modified = append(st.Modified, e)
}

func (st *State) recordAnomaly(w ospackage.AnomalyWarning) {
	for i, a := range st.Anomalies {
		if a.Name == w.Name && a.Arch == w.Arch {
			st.Anomalies[i] = w
			return
		}
	}
	st.Anomalies = append(st.Anomalies, w)
}

// contentModifiedFor returns the exemption list the entry was last verified with.
func (st *State) contentModifiedFor(e *ospackage.DesiredEntry) []string {
	for _, inst := range e.Instances {
		if s := st.Status[inst.Handle]; s != nil {
			return s.ContentModified
		}
	}
	return nil
}

func (st *State) resetStatus(e *ospackage.DesiredEntry, inst *ospackage.DesiredInstance, contentModified []string) *InstanceStatus {
	s := &InstanceStatus{Entry: e, Instance: inst, ContentModified: slices.Clone(contentModified)}
	st.Status[inst.Handle] = s
	return s
}

func (st *State) reportProgress(step string, done, total int) {
	if st.progress != nil {
		st.progress(ProgressEvent{Step: step, Done: done, Total: total})
	}
}
