package reconcile

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

// NewState snapshots the installed packages and the trusted signing keys.
func (r *Reconciler) NewState(ctx context.Context) (*State, error) {
	st := newState()
	if err := r.Refresh(ctx, st); err != nil {
		return nil, err
	}
	if err := r.RefreshTrust(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Refresh replaces the installed snapshot with a fresh backend query.
func (r *Reconciler) Refresh(ctx context.Context, st *State) error {
	log := logger.Logger()
	ctx, span := r.tracer.Start(ctx, "reconcile.snapshot")
	defer span.End()

	pkgs, err := r.backend.QueryInstalled(ctx)
	if err != nil {
		endSpan(span, err)
		var qe *ospackage.BackendQueryError
		if errors.As(err, &qe) {
			return err
		}
		return &ospackage.BackendQueryError{Query: "installed packages", Err: err}
	}
	st.setInstalled(pkgs)
	span.SetAttributes(attribute.Int("packages.installed", len(pkgs)))

	log.Debugf("Snapshot holds %d package instance(s) across %d name(s)", len(pkgs), len(st.Names))
	for _, name := range st.Names {
		for _, inst := range st.Installed[name] {
			log.Debugf("    %s %s", name, inst.EVRA())
		}
	}
	return nil
}

// RefreshTrust rebuilds the set of trusted key ids from installed key packages.
func (r *Reconciler) RefreshTrust(ctx context.Context, st *State) error {
	log := logger.Logger()
	ctx, span := r.tracer.Start(ctx, "reconcile.trust")
	defer span.End()

	hdrs, err := r.backend.QueryByAttribute(ctx, "name", ospackage.KeyPackageName)
	if err != nil {
		endSpan(span, err)
		var qe *ospackage.BackendQueryError
		if errors.As(err, &qe) {
			return err
		}
		return &ospackage.BackendQueryError{Query: "signing keys", Err: err}
	}

	keys := map[string]struct{}{ospackage.UntrustedKeyID: {}}
	for _, h := range hdrs {
		keys[h.Version] = struct{}{}
	}
	st.TrustedKeys = keys
	log.Debugf("Trusted signing keys: %d", len(hdrs))
	return nil
}
