package reconcile

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

type eraseTarget struct {
	owner *ospackage.DesiredEntry
	spec  ospackage.EraseSpec
}

// RemovePackages erases every instance of packages in one transaction, then
// one spec at a time if that fails. Key packages are never erased. The
// snapshot and the extra package list are rebuilt afterwards.
func (r *Reconciler) RemovePackages(ctx context.Context, st *State, packages []*ospackage.DesiredEntry) error {
	log := logger.Logger()
	ctx, span := r.tracer.Start(ctx, "reconcile.remove")
	defer span.End()
	log.Debugf("Removing %d package(s)", len(packages))

	var targets []eraseTarget
	for _, pkg := range packages {
		for _, inst := range pkg.Instances {
			if pkg.Name == ospackage.KeyPackageName {
				log.Warnf("%s package not in configuration %s %s", pkg.Name, pkg.Name,
					ospackage.FormatEVRA(nil, inst.Version, inst.Release, ""))
				log.Warnf("         Key packages are not removed.")
				continue
			}
			targets = append(targets, eraseTarget{owner: pkg, spec: ospackage.EraseSpec{
				Name:    pkg.Name,
				Epoch:   inst.Epoch,
				Version: inst.Version,
				Release: inst.Release,
				Arch:    inst.Arch,
			}})
		}
	}
	span.SetAttributes(attribute.Int("erase.specs", len(targets)))

	var errs error
	if len(targets) > 0 {
		specs := make([]ospackage.EraseSpec, 0, len(targets))
		for _, t := range targets {
			specs = append(specs, t.spec)
		}

		if failures := r.backend.Erase(ctx, specs, r.policy.EraseFlags); len(failures) == 0 {
			for _, t := range targets {
				log.Infof("Deleted %s %s", t.spec.Name, specEVRA(t.spec))
				st.markModified(t.owner)
			}
		} else {
			log.Errorf("Bulk erase failed with errors:")
			log.Debugf("Erase results = %v", failures)
			log.Infof("Attempting individual erase for each package.")
			for _, t := range targets {
				if failures := r.backend.Erase(ctx, []ospackage.EraseSpec{t.spec}, r.policy.EraseFlags); len(failures) > 0 {
					log.Errorf("unable to delete %s %s", t.spec.Name, specEVRA(t.spec))
					log.Debugf("Failure = %v", failures)
					errs = multierr.Append(errs, &ospackage.ActionFailure{Op: "erase", Target: t.spec.String(), Output: failures[0].Reason})
					continue
				}
				log.Infof("Deleted %s %s", t.spec.Name, specEVRA(t.spec))
				st.markModified(t.owner)
			}
		}
	}

	for _, pkg := range packages {
		delete(st.extraInstances, pkg.Name)
	}
	if err := r.Refresh(ctx, st); err != nil {
		endSpan(span, err)
		return err
	}
	if st.document != nil {
		r.FindExtraPackages(st, st.document)
	}
	if errs != nil {
		endSpan(span, errs)
	}
	return errs
}

func specEVRA(s ospackage.EraseSpec) string {
	return ospackage.FormatEVRA(s.Epoch, s.Version, s.Release, s.Arch)
}
