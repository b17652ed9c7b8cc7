package reconcile

import (
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

// Verify compares entry against the snapshot, records a status for every
// instance and reports whether the entry has converged. Files listed in
// contentModified are exempt from content failures. Verifying the same entry
// twice against an unchanged snapshot yields the same statuses.
func (r *Reconciler) Verify(ctx context.Context, st *State, entry *ospackage.DesiredEntry, contentModified []string) (bool, error) {
	log := logger.Logger()
	ctx, span := r.tracer.Start(ctx, "reconcile.verify")
	defer span.End()
	span.SetAttributes(attribute.String("package.name", entry.Name))

	if _, err := ospackage.Normalize(entry); err != nil {
		endSpan(span, err)
		st.Converged[entry] = false
		return false, err
	}
	kind := r.policy.Resolve(entry)

	log.Infof("Verifying package instances for %s", entry.Name)
	entry.Actions = nil
	entry.QText = ""
	entry.CurrentExists = nil
	entry.CurrentVersion = ""
	delete(st.extraInstances, entry.Name)

	installed := st.Installed[entry.Name]
	if len(installed) == 0 {
		log.Debugf("Package %s has no instances installed", entry.Name)
		exists := false
		entry.CurrentExists = &exists
		for _, inst := range entry.Instances {
			st.resetStatus(entry, inst, contentModified)
			entry.Actions = append(entry.Actions, ospackage.Action{Kind: ospackage.ActionMissing, Want: inst.EVRA()})
		}
		setVersionSummary(entry)
		entry.QText = RenderPrompt(entry)
		st.Converged[entry] = false
		return false, nil
	}

	var errs error
	switch kind {
	case ospackage.KindInstallOnly, ospackage.KindGPGKey:
		log.Infof("        Install only package.")
		for _, inst := range entry.Instances {
			status := st.resetStatus(entry, inst, contentModified)
			if inst.Legacy && len(installed) > 1 {
				log.Warnf("Multiple instances of package %s are installed.", entry.Name)
			}
			for i := range installed {
				if !ospackage.InstanceMatches(inst, installed[i]) {
					continue
				}
				log.Infof("        %s", inst.EVRA())
				status.Installed = true
				if status.Matched == nil {
					matched := installed[i]
					status.Matched = &matched
				}
				errs = multierr.Append(errs, r.verifyInstance(ctx, st, kind, inst, installed[i], status))
			}
			if !status.Installed {
				log.Infof("        Package %s %s not installed.", entry.Name, inst.EVRA())
				entry.Actions = append(entry.Actions, ospackage.Action{Kind: ospackage.ActionMissing, Want: inst.EVRA()})
				exists := false
				entry.CurrentExists = &exists
			}
		}
	default:
		for _, inst := range entry.Instances {
			status := st.resetStatus(entry, inst, contentModified)
			candidates := installed
			if inst.Arch != "" {
				candidates = nil
				for _, pkg := range installed {
					if pkg.Arch == inst.Arch {
						candidates = append(candidates, pkg)
					}
				}
			}

			if len(candidates) > 1 {
				w := ospackage.AnomalyWarning{Name: entry.Name, Arch: inst.Arch, Candidates: slices.Clone(candidates)}
				log.Warnf("%s; comparing against %s", w.String(), candidates[0].EVRA())
				st.recordAnomaly(w)
			}
			if len(candidates) == 0 {
				log.Infof("        %s is not installed.", inst.EVRA())
				entry.Actions = append(entry.Actions, ospackage.Action{Kind: ospackage.ActionMissing, Want: inst.EVRA()})
				continue
			}

			pkg := candidates[0]
			if ospackage.InstanceMatches(inst, pkg) {
				log.Infof("        %s", inst.EVRA())
				status.Installed = true
				status.Matched = &pkg
				errs = multierr.Append(errs, r.verifyInstance(ctx, st, kind, inst, pkg, status))
			} else {
				status.VersionFail = true
				status.Matched = &pkg
				log.Infof("        Wrong version installed.  Want %s, but have %s", inst.EVRA(), pkg.EVRA())
				entry.Actions = append(entry.Actions, ospackage.Action{Kind: ospackage.ActionVersionMismatch, Want: inst.EVRA(), Have: pkg.EVRA()})
			}
		}
	}

	failed := false
	for _, inst := range entry.Instances {
		status := st.Status[inst.Handle]
		checkVerifyResults(status, inst, contentModified)
		if status.VerifyFail {
			log.Infof("*** Instance %s failed RPM verification ***", inst.EVRA())
			entry.Actions = append(entry.Actions, ospackage.Action{Kind: ospackage.ActionVerifyFailed, Want: inst.EVRA()})
		}
		if !status.OK() {
			failed = true
		}
	}

	if extra := FindExtraInstances(r.policy, entry, installed); extra != nil {
		failed = true
		st.extraInstances[entry.Name] = extra
		for _, inst := range extra.Instances {
			entry.Actions = append(entry.Actions, ospackage.Action{Kind: ospackage.ActionExtra, Have: inst.EVRA()})
		}
		log.Debugf("Found %d extra instance(s) of %s", len(extra.Instances), entry.Name)
	}

	if errs != nil {
		endSpan(span, errs)
	}
	if !failed {
		st.Converged[entry] = true
		return true, errs
	}

	log.Infof("        Package %s failed verification.", entry.Name)
	setVersionSummary(entry)
	entry.CurrentVersion = evraList(installed)
	entry.QText = RenderPrompt(entry)
	st.Converged[entry] = false
	span.SetAttributes(attribute.Int("package.actions", len(entry.Actions)))
	return false, errs
}

// verifyInstance runs backend verification of one matched installed record.
// Unsigned or untrusted packages are verified with signature checks off.
func (r *Reconciler) verifyInstance(ctx context.Context, st *State, kind ospackage.Kind, inst *ospackage.DesiredInstance, pkg ospackage.PackageInstance, status *InstanceStatus) error {
	log := logger.Logger()

	flags := make([]string, 0, len(inst.VerifyFlags)+2)
	for _, f := range inst.VerifyFlags {
		if f = strings.TrimSpace(f); f != "" {
			flags = append(flags, f)
		}
	}
	log.Debugf("        verify_flags = %v", flags)
	if kind != ospackage.KindGPGKey && !st.Trusted(pkg.GPGKeyID) {
		flags = append(flags, "nosignature", "nodigest")
		log.Warnf("Package %s %s requires GPG Public key with ID %s. Disabling signature check.",
			pkg.Name, pkg.EVRA(), pkg.GPGKeyID)
	}
	status.Suppressed = flags

	results, err := r.backend.Verify(ctx, pkg, flags)
	if err != nil {
		status.VerifyFail = true
		return err
	}
	status.VerifyResults = append(status.VerifyResults, results...)
	return nil
}

// checkVerifyResults sets VerifyFail and Modlist from the collected results.
// A backend error recorded earlier keeps the instance failed.
func checkVerifyResults(status *InstanceStatus, inst *ospackage.DesiredInstance, contentModified []string) {
	log := logger.Logger()

	if len(status.VerifyResults) > 1 {
		log.Warnf("Verification of more than one package instance for %s.", inst.EVRA())
	}
	failed := false
	status.Modlist = nil
	for _, res := range status.VerifyResults {
		if res.HeaderMismatch || res.DependencyMismatch {
			failed = true
		}
		for _, f := range res.Files {
			if slices.Contains(contentModified, f.Path) || slices.Contains(inst.Ignore, f.Path) {
				log.Infof("        Modlist/Ignore match: %s", f.Path)
				continue
			}
			failed = true
			status.Modlist = append(status.Modlist, f.Path)
		}
	}
	if failed {
		status.VerifyFail = true
	}
}

func setVersionSummary(entry *ospackage.DesiredEntry) {
	var b strings.Builder
	for _, inst := range entry.Instances {
		if inst.Legacy {
			continue
		}
		b.WriteString("(" + inst.EVRA() + ") ")
	}
	if b.Len() > 0 {
		entry.Version = b.String()
	}
}

func evraList(pkgs []ospackage.PackageInstance) string {
	var b strings.Builder
	for _, p := range pkgs {
		b.WriteString("(" + p.EVRA() + ") ")
	}
	return b.String()
}
