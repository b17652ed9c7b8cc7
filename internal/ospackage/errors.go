package ospackage

import (
	"errors"
	"fmt"
	"strings"
)

// MalformedEntryError means a flat entry version could not be split into version and release.
type MalformedEntryError struct {
	Name    string
	Version string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("package %s: malformed version %q, expected version-release", e.Name, e.Version)
}

// Operation names what an entry is being checked for.
type Operation string

const (
	OpVerify  Operation = "verify"
	OpInstall Operation = "install"
)

// IncompleteEntryError means an entry or one of its instances lacks attributes for an operation.
type IncompleteEntryError struct {
	Entry     string
	Operation Operation
	Missing   []string
}

func (e *IncompleteEntryError) Error() string {
	return fmt.Sprintf("incomplete information for package %s; cannot %s (missing %s)",
		e.Entry, e.Operation, strings.Join(e.Missing, ", "))
}

// BackendQueryError means the installed package list could not be read.
type BackendQueryError struct {
	Query string
	Err   error
}

func (e *BackendQueryError) Error() string {
	return fmt.Sprintf("package query %s failed: %v", e.Query, e.Err)
}

func (e *BackendQueryError) Unwrap() error { return e.Err }

// BackendVerifyError means verification of one installed instance could not run.
type BackendVerifyError struct {
	NEVRA string
	Err   error
}

func (e *BackendVerifyError) Error() string {
	return fmt.Sprintf("verify of %s failed: %v", e.NEVRA, e.Err)
}

func (e *BackendVerifyError) Unwrap() error { return e.Err }

// ActionFailure is a non-zero result from a mutating backend call.
type ActionFailure struct {
	Op       string
	Target   string
	ExitCode int
	Output   string
	Err      error
}

func (e *ActionFailure) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Op, e.Target)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActionFailure) Unwrap() error { return e.Err }

// AnomalyWarning records more installed instances than an entry allows.
// It is reported, never returned.
type AnomalyWarning struct {
	Name       string
	Arch       string
	Candidates []PackageInstance
}

func (w AnomalyWarning) String() string {
	evras := make([]string, 0, len(w.Candidates))
	for _, c := range w.Candidates {
		evras = append(evras, c.EVRA())
	}
	arch := w.Arch
	if arch == "" {
		arch = "*"
	}
	return fmt.Sprintf("multiple instances of package %s installed with architecture %s: %s",
		w.Name, arch, strings.Join(evras, " "))
}

// IsPassFatal reports whether err must stop a whole reconciliation pass.
func IsPassFatal(err error) bool {
	var qe *BackendQueryError
	return errors.As(err, &qe)
}
