// Package reconcile converges installed rpm packages towards a desired-state
// document: it snapshots the host, verifies every entry, and remediates
// diverged entries through an ospackage.Backend.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/general/slice"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

const tracerName = "github.com/open-edge-platform/os-package-reconciler/internal/reconcile"

// Reconciler runs passes against one backend. Passes must not run concurrently.
type Reconciler struct {
	backend ospackage.Backend
	policy  ospackage.Policy
	tracer  trace.Tracer
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithTracerProvider sends pass spans to tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reconciler) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(backend ospackage.Backend, policy ospackage.Policy, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend: backend,
		policy:  policy,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the package class settings in use.
func (r *Reconciler) Policy() ospackage.Policy { return r.policy }

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RunOptions control one full pass.
type RunOptions struct {
	// DryRun stops after verification.
	DryRun bool
	// Confirm, when set, is asked about every diverged entry; only confirmed
	// entries are remediated.
	Confirm func(entry *ospackage.DesiredEntry) bool
	// RemoveUnmanaged erases installed packages the document never mentions,
	// except install-only and key packages.
	RemoveUnmanaged bool
	// ContentModified lists files the configuration layer changed on purpose.
	ContentModified []string
	Progress        func(ProgressEvent)
}

// EntryReport is the outcome of one desired entry.
type EntryReport struct {
	Name           string             `json:"name"`
	Kind           string             `json:"kind"`
	Version        string             `json:"version,omitempty"`
	CurrentVersion string             `json:"currentVersion,omitempty"`
	Converged      bool               `json:"converged"`
	Modified       bool               `json:"modified"`
	QText          string             `json:"qtext,omitempty"`
	Actions        []ospackage.Action `json:"-"`
	Tags           []string           `json:"actions,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// PassReport summarizes one reconciliation pass.
type PassReport struct {
	ID            string        `json:"id"`
	Started       time.Time     `json:"started"`
	Finished      time.Time     `json:"finished"`
	DryRun        bool          `json:"dryRun"`
	Entries       []EntryReport `json:"entries"`
	Modified      []string      `json:"modified,omitempty"`
	Anomalies     []string      `json:"anomalies,omitempty"`
	ExtraPackages []string      `json:"extraPackages,omitempty"`
	Errors        []string      `json:"errors,omitempty"`
	Err           error         `json:"-"`
}

// Converged reports whether every entry converged.
func (p *PassReport) Converged() bool {
	for _, e := range p.Entries {
		if !e.Converged {
			return false
		}
	}
	return true
}

// Run performs a full pass: snapshot, verification of every entry, then
// remediation of the diverged ones unless opts.DryRun is set. Only a failed
// snapshot aborts the pass; everything else is collected in the report.
func (r *Reconciler) Run(ctx context.Context, entries []*ospackage.DesiredEntry, opts RunOptions) (*PassReport, error) {
	log := logger.Logger()
	report := &PassReport{ID: uuid.NewString(), Started: time.Now(), DryRun: opts.DryRun}

	ctx, span := r.tracer.Start(ctx, "reconcile.run", trace.WithAttributes(
		attribute.String("pass.id", report.ID),
		attribute.Int("entries", len(entries)),
		attribute.Bool("dry_run", opts.DryRun),
	))
	defer span.End()

	st, err := r.NewState(ctx)
	if err != nil {
		endSpan(span, err)
		report.Finished = time.Now()
		report.Err = err
		report.Errors = []string{err.Error()}
		return report, err
	}
	st.document = entries
	st.progress = opts.Progress

	var errs error
	entryErrs := make(map[*ospackage.DesiredEntry]error)
	var diverged []*ospackage.DesiredEntry
	for _, e := range entries {
		r.policy.Resolve(e)
		if _, err := ospackage.Normalize(e); err != nil {
			log.Errorf("Skipping package %s: %v", e.Name, err)
			entryErrs[e] = multierr.Append(entryErrs[e], err)
			errs = multierr.Append(errs, err)
			continue
		}
		if err := ospackage.CanVerify(e); err != nil {
			log.Errorf("Skipping package %s: %v", e.Name, err)
			entryErrs[e] = multierr.Append(entryErrs[e], err)
			errs = multierr.Append(errs, err)
			continue
		}
		ok, err := r.Verify(ctx, st, e, opts.ContentModified)
		if err != nil {
			entryErrs[e] = multierr.Append(entryErrs[e], err)
			errs = multierr.Append(errs, err)
		}
		if !ok {
			diverged = append(diverged, e)
		}
	}
	r.FindExtraPackages(st, entries)
	log.Infof("%d of %d package(s) diverged, %d unmanaged package(s) installed", len(diverged), len(entries), len(st.ExtraPackages))

	if !opts.DryRun {
		confirmed := diverged
		if opts.Confirm != nil {
			confirmed = nil
			for _, e := range diverged {
				if opts.Confirm(e) {
					confirmed = append(confirmed, e)
				}
			}
		}
		if len(confirmed) > 0 {
			if err := r.Remediate(ctx, st, confirmed); err != nil {
				errs = multierr.Append(errs, err)
				if ospackage.IsPassFatal(err) {
					return r.finish(report, st, entries, entryErrs, errs, span), err
				}
			}
		}
		if opts.RemoveUnmanaged {
			var unmanaged []*ospackage.DesiredEntry
			for _, e := range st.ExtraPackages {
				if e.Kind != ospackage.KindNormal {
					continue
				}
				if opts.Confirm != nil && !opts.Confirm(e) {
					continue
				}
				unmanaged = append(unmanaged, e)
			}
			if len(unmanaged) > 0 {
				if err := r.RemovePackages(ctx, st, unmanaged); err != nil {
					errs = multierr.Append(errs, err)
					if ospackage.IsPassFatal(err) {
						return r.finish(report, st, entries, entryErrs, errs, span), err
					}
				}
			}
		}
	}

	return r.finish(report, st, entries, entryErrs, errs, span), nil
}

func (r *Reconciler) finish(report *PassReport, st *State, entries []*ospackage.DesiredEntry,
	entryErrs map[*ospackage.DesiredEntry]error, errs error, span trace.Span) *PassReport {
	modified := make(map[*ospackage.DesiredEntry]struct{}, len(st.Modified))
	var modifiedNames []string
	for _, e := range st.Modified {
		modified[e] = struct{}{}
		modifiedNames = append(modifiedNames, e.Name)
	}

	for _, e := range entries {
		er := EntryReport{
			Name:           e.Name,
			Kind:           e.Kind.String(),
			Version:        e.Version,
			CurrentVersion: e.CurrentVersion,
			Converged:      st.Converged[e],
			QText:          e.QText,
			Actions:        e.Actions,
		}
		_, er.Modified = modified[e]
		for _, a := range e.Actions {
			er.Tags = append(er.Tags, RenderTag(a))
		}
		if err := entryErrs[e]; err != nil {
			er.Error = err.Error()
		}
		report.Entries = append(report.Entries, er)
	}

	report.Modified = slice.Unique(modifiedNames)
	for _, a := range st.Anomalies {
		report.Anomalies = append(report.Anomalies, a.String())
	}
	for _, e := range st.ExtraPackages {
		report.ExtraPackages = append(report.ExtraPackages, e.Name)
	}
	for _, err := range multierr.Errors(errs) {
		report.Errors = append(report.Errors, err.Error())
	}
	report.Err = errs
	report.Finished = time.Now()

	if errs != nil {
		endSpan(span, errs)
	}
	span.SetAttributes(attribute.Int("modified", len(report.Modified)))
	return report
}
