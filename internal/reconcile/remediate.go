package reconcile

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

// Remediation steps reported through ProgressEvent.
const (
	StepRemove      = "remove extra instances"
	StepInstallOnly = "install-only packages"
	StepKeys        = "gpg keys"
	StepUpgrade     = "upgrade packages"
)

var remediationSteps = []string{StepRemove, StepInstallOnly, StepKeys, StepUpgrade}

// ProgressEvent reports that one remediation step finished.
type ProgressEvent struct {
	Step  string
	Done  int
	Total int
}

type workItem struct {
	entry           *ospackage.DesiredEntry
	inst            *ospackage.DesiredInstance
	path            string
	contentModified []string
}

type transactionFunc func(ctx context.Context, paths []string, opts ospackage.TransactionOptions) (string, error)

var transactionOptions = ospackage.TransactionOptions{AllowOlder: true, Replace: true}

// ReinstallWarranted reports whether a failed verification calls for a
// reinstall: some failing file is not a configuration file.
func ReinstallWarranted(results []ospackage.VerifyResult) bool {
	log := logger.Logger()
	reinstall := false
	for _, res := range results {
		log.Debugf("reinstall check: %s", res.NEVRA)
		for _, f := range res.Files {
			log.Debugf("reinstall check: file: %s %c %s", f.Attributes, f.Type, f.Path)
			if f.Type != ospackage.FileTypeConfig {
				reinstall = true
			}
		}
	}
	return reinstall
}

// Remediate tries to converge every diverged entry: it removes the unmanaged
// instances of those entries, installs install-only packages, imports keys and upgrades the
// rest, re-verifying each touched entry once after every step. Entries that
// converge are added to st.Modified. Action failures are returned together
// and never stop the remaining steps.
func (r *Reconciler) Remediate(ctx context.Context, st *State, entries []*ospackage.DesiredEntry) error {
	log := logger.Logger()
	ctx, span := r.tracer.Start(ctx, "reconcile.remediate")
	defer span.End()
	span.SetAttributes(attribute.Int("entries", len(entries)))
	log.Infof("Running remediation for %d package(s)", len(entries))

	var errs error
	total := len(remediationSteps)

	wanted := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		wanted[e.Name] = struct{}{}
	}
	var extras []*ospackage.DesiredEntry
	for _, e := range st.ExtraInstances() {
		if _, ok := wanted[e.Name]; ok {
			extras = append(extras, e)
		}
	}
	if len(extras) > 0 {
		removed := make(map[string]struct{}, len(extras))
		for _, e := range extras {
			removed[e.Name] = struct{}{}
		}
		if err := r.RemovePackages(ctx, st, extras); err != nil {
			if ospackage.IsPassFatal(err) {
				endSpan(span, err)
				return err
			}
			errs = multierr.Append(errs, err)
		}
		for _, e := range entries {
			if _, ok := removed[e.Name]; !ok {
				continue
			}
			if _, err := r.Verify(ctx, st, e, st.contentModifiedFor(e)); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	st.reportProgress(StepRemove, 1, total)

	var installOnly, keys, upgrades []workItem
	for _, e := range entries {
		if st.Converged[e] {
			continue
		}
		if err := ospackage.CanInstall(e); err != nil {
			log.Errorf("%v", err)
			errs = multierr.Append(errs, err)
			continue
		}
		for _, inst := range e.Instances {
			status := st.Status[inst.Handle]
			if status == nil {
				continue
			}
			if status.Installed && !status.VersionFail &&
				!(status.VerifyFail && ReinstallWarranted(status.VerifyResults)) {
				continue
			}
			item := workItem{entry: e, inst: inst, path: e.ArtifactPath(inst), contentModified: status.ContentModified}
			if item.path == "" {
				err := &ospackage.ActionFailure{Op: "install", Target: e.Name + " " + inst.EVRA(), Err: fmt.Errorf("no artifact location")}
				log.Errorf("%v", err)
				errs = multierr.Append(errs, err)
				continue
			}
			switch e.Kind {
			case ospackage.KindGPGKey:
				keys = append(keys, item)
			case ospackage.KindInstallOnly:
				installOnly = append(installOnly, item)
			default:
				upgrades = append(upgrades, item)
			}
		}
	}

	if len(installOnly) > 0 {
		log.Infof("Attempting to install 'install only packages'")
		if err := r.runQueue(ctx, st, "install", installOnly, r.backend.Install, &errs); err != nil {
			endSpan(span, err)
			return multierr.Append(errs, err)
		}
	}
	st.reportProgress(StepInstallOnly, 2, total)

	if len(keys) > 0 {
		if err := r.importKeys(ctx, st, keys, &errs); err != nil {
			endSpan(span, err)
			return multierr.Append(errs, err)
		}
	}
	st.reportProgress(StepKeys, 3, total)

	if len(upgrades) > 0 {
		log.Infof("Attempting to upgrade packages")
		if err := r.runQueue(ctx, st, "upgrade", upgrades, r.backend.Upgrade, &errs); err != nil {
			endSpan(span, err)
			return multierr.Append(errs, err)
		}
	}
	st.reportProgress(StepUpgrade, 4, total)

	for _, e := range entries {
		if st.Converged[e] {
			st.markModified(e)
		}
	}
	if errs != nil {
		endSpan(span, errs)
	}
	return errs
}

// runQueue runs one transaction over every item and falls back to one
// transaction per item when the bulk attempt fails. Only a failed snapshot
// refresh is returned; action failures are appended to errs.
func (r *Reconciler) runQueue(ctx context.Context, st *State, op string, items []workItem, fn transactionFunc, errs *error) error {
	log := logger.Logger()

	paths := make([]string, 0, len(items))
	for _, it := range items {
		paths = append(paths, it.path)
	}

	var succeeded []workItem
	if _, err := fn(ctx, paths, transactionOptions); err == nil {
		log.Infof("Single pass %s of %d package(s) succeeded", op, len(items))
		succeeded = items
	} else {
		log.Errorf("Single pass %s failed: %v", op, err)
		log.Infof("Attempting individual %s for each package.", op)
		for _, it := range items {
			if _, err := fn(ctx, []string{it.path}, transactionOptions); err != nil {
				log.Errorf("Package %s %s would not %s: %v", it.entry.Name, it.inst.EVRA(), op, err)
				*errs = multierr.Append(*errs, err)
				continue
			}
			succeeded = append(succeeded, it)
		}
	}

	if err := r.Refresh(ctx, st); err != nil {
		return err
	}
	*errs = multierr.Append(*errs, r.reverifyOnce(ctx, st, succeeded))
	return nil
}

// importKeys imports every key on its own so one bad key cannot block the others.
func (r *Reconciler) importKeys(ctx context.Context, st *State, items []workItem, errs *error) error {
	log := logger.Logger()
	log.Infof("Installing GPG keys.")

	var succeeded []workItem
	for _, it := range items {
		if _, err := r.backend.ImportKey(ctx, it.path); err != nil {
			log.Errorf("Unable to install %s-%s: %v", it.entry.Name, it.inst.EVRA(), err)
			*errs = multierr.Append(*errs, err)
			continue
		}
		log.Debugf("Installed %s-%s-%s", it.entry.Name, it.inst.Version, it.inst.Release)
		succeeded = append(succeeded, it)
	}
	if len(succeeded) == 0 {
		return nil
	}

	if err := r.Refresh(ctx, st); err != nil {
		return err
	}
	if err := r.RefreshTrust(ctx, st); err != nil {
		return err
	}
	*errs = multierr.Append(*errs, r.reverifyOnce(ctx, st, succeeded))
	return nil
}

// reverifyOnce verifies each distinct owning entry of items a single time,
// using the exemption list captured before the action ran.
func (r *Reconciler) reverifyOnce(ctx context.Context, st *State, items []workItem) error {
	log := logger.Logger()
	var errs error
	seen := make(map[*ospackage.DesiredEntry]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it.entry]; ok {
			continue
		}
		seen[it.entry] = struct{}{}
		log.Debugf("Reverifying %s", it.entry.Name)
		if _, err := r.Verify(ctx, st, it.entry, it.contentModified); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
