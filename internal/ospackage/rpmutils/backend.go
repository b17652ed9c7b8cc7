package rpmutils

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/shell"
)

// Backend drives the rpm command line through the shell runner. Every call
// is one short-lived rpm process, so no database handle outlives a call.
type Backend struct {
	// RPM is the rpm binary, "rpm" when empty.
	RPM string
	// Root is passed as --root when set.
	Root string
	Sudo bool
	// CheckArtifacts reads the header of every local package before a
	// transaction and refuses unreadable files.
	CheckArtifacts bool
	// RemoteClient, when set, extends artifact checks to http(s) URLs.
	RemoteClient *http.Client
}

var _ ospackage.Backend = (*Backend)(nil)

// NewBackend returns an rpm backend with artifact checks enabled.
func NewBackend(rpmBin, root string, sudo bool) *Backend {
	return &Backend{RPM: rpmBin, Root: root, Sudo: sudo, CheckArtifacts: true}
}

func (b *Backend) base(args ...string) string {
	bin := b.RPM
	if bin == "" {
		bin = "rpm"
	}
	parts := []string{bin}
	if b.Root != "" && b.Root != "/" {
		parts = append(parts, "--root", shell.Quote(b.Root))
	}
	return strings.Join(append(parts, args...), " ")
}

func (b *Backend) run(ctx context.Context, cmd string) (string, error) {
	return shell.ExecCmd(ctx, cmd, b.Sudo, []string{"LC_ALL=C"})
}

func quoteAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, shell.Quote(s))
	}
	return out
}

func (b *Backend) QueryInstalled(ctx context.Context) ([]ospackage.PackageInstance, error) {
	cmd := b.base("-qa", "--nodigest", "--nosignature", "--queryformat", shell.Quote(installedQueryFormat))
	out, err := b.run(ctx, cmd)
	if err != nil {
		return nil, &ospackage.BackendQueryError{Query: "installed packages", Err: err}
	}
	pkgs, err := ParseInstalled(out)
	if err != nil {
		return nil, &ospackage.BackendQueryError{Query: "installed packages", Err: err}
	}
	return pkgs, nil
}

func (b *Backend) Verify(ctx context.Context, inst ospackage.PackageInstance, suppress []string) ([]ospackage.VerifyResult, error) {
	log := logger.Logger()

	spec := specFor(inst).String()
	args := []string{"-V"}
	for _, flag := range suppress {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			continue
		}
		args = append(args, "--"+strings.TrimPrefix(flag, "--"))
	}
	args = append(args, shell.Quote(spec))

	out, err := b.run(ctx, b.base(args...))
	// rpm -V exits 1 when it found differences
	if err != nil && shell.ExitCode(err) != 1 {
		return nil, &ospackage.BackendVerifyError{NEVRA: spec, Err: err}
	}
	res, perr := ParseVerifyOutput(spec, out)
	if perr != nil {
		return nil, &ospackage.BackendVerifyError{NEVRA: spec, Err: perr}
	}
	log.Debugf("rpm -V %s: %d file(s), header=%v deps=%v", spec, len(res.Files), res.HeaderMismatch, res.DependencyMismatch)
	return []ospackage.VerifyResult{res}, nil
}

func (b *Backend) Install(ctx context.Context, paths []string, opts ospackage.TransactionOptions) (string, error) {
	return b.transaction(ctx, "install", paths, opts)
}

func (b *Backend) Upgrade(ctx context.Context, paths []string, opts ospackage.TransactionOptions) (string, error) {
	return b.transaction(ctx, "upgrade", paths, opts)
}

func (b *Backend) transaction(ctx context.Context, op string, paths []string, opts ospackage.TransactionOptions) (string, error) {
	log := logger.Logger()
	target := strings.Join(paths, " ")

	if len(paths) == 0 {
		return "", &ospackage.ActionFailure{Op: op, Target: "(nothing)", Err: fmt.Errorf("no packages given")}
	}
	if b.CheckArtifacts {
		for _, p := range paths {
			var (
				nevra ospackage.PackageInstance
				err   error
			)
			switch {
			case !IsRemote(p):
				nevra, err = ReadArtifactNEVRA(p)
			case b.RemoteClient != nil && !strings.HasPrefix(p, "ftp://"):
				nevra, err = ReadRemoteArtifactNEVRA(ctx, b.RemoteClient, p)
			default:
				continue
			}
			if err != nil {
				return "", &ospackage.ActionFailure{Op: op, Target: p, Err: err}
			}
			log.Debugf("%s %s: %s %s", op, p, nevra.Name, nevra.EVRA())
		}
	}

	args := []string{"--" + op, "--quiet"}
	if opts.AllowOlder {
		args = append(args, "--oldpackage")
	}
	if opts.Replace {
		args = append(args, "--replacepkgs")
	}
	args = append(args, quoteAll(paths)...)

	out, err := b.run(ctx, b.base(args...))
	if err != nil {
		return out, &ospackage.ActionFailure{Op: op, Target: target, ExitCode: shell.ExitCode(err), Output: out, Err: err}
	}
	return out, nil
}

func (b *Backend) Erase(ctx context.Context, specs []ospackage.EraseSpec, flags []string) []ospackage.EraseFailure {
	if len(specs) == 0 {
		return nil
	}
	args := []string{"--erase"}
	for _, f := range flags {
		if f = strings.TrimSpace(f); f != "" {
			args = append(args, "--"+strings.TrimPrefix(f, "--"))
		}
	}
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.String())
	}
	args = append(args, quoteAll(names)...)

	out, err := b.run(ctx, b.base(args...))
	if err == nil {
		return nil
	}

	reason := strings.TrimSpace(out)
	if reason == "" {
		reason = err.Error()
	}
	var failures []ospackage.EraseFailure
	for i, s := range specs {
		if strings.Contains(out, names[i]) {
			failures = append(failures, ospackage.EraseFailure{Spec: s, Reason: reason})
		}
	}
	// nothing attributable: the whole transaction failed
	if len(failures) == 0 {
		for _, s := range specs {
			failures = append(failures, ospackage.EraseFailure{Spec: s, Reason: reason})
		}
	}
	return failures
}

func (b *Backend) ImportKey(ctx context.Context, path string) (string, error) {
	log := logger.Logger()

	if !IsRemote(path) {
		keys, err := ReadKeyInfo(path)
		if err != nil {
			return "", &ospackage.ActionFailure{Op: "import", Target: path, Err: err}
		}
		for _, k := range keys {
			log.Debugf("Importing key gpg-pubkey-%s-%s (%s)", k.Version, k.Release, k.UserID)
		}
	}

	out, err := b.run(ctx, b.base("--import", shell.Quote(path)))
	if err != nil {
		return out, &ospackage.ActionFailure{Op: "import", Target: path, ExitCode: shell.ExitCode(err), Output: out, Err: err}
	}
	return out, nil
}

// QueryByAttribute looks up installed headers by name, provided capability or owned file.
func (b *Backend) QueryByAttribute(ctx context.Context, attr, value string) ([]ospackage.HeaderRecord, error) {
	args := []string{"-q", "--nodigest", "--nosignature", "--queryformat", shell.Quote(headerQueryFormat)}
	switch attr {
	case "name":
	case "provides":
		args = append(args, "--whatprovides")
	case "file":
		args = append(args, "-f")
	default:
		return nil, &ospackage.BackendQueryError{Query: attr, Err: fmt.Errorf("unsupported attribute %q", attr)}
	}
	args = append(args, shell.Quote(value))

	out, err := b.run(ctx, b.base(args...))
	if err != nil {
		// rpm -q exits 1 when nothing matches
		if shell.ExitCode(err) == 1 && (strings.Contains(out, "not installed") || strings.Contains(out, "no package provides")) {
			return nil, nil
		}
		return nil, &ospackage.BackendQueryError{Query: attr + "=" + value, Err: err}
	}
	return ParseHeaders(out), nil
}

func specFor(inst ospackage.PackageInstance) ospackage.EraseSpec {
	return ospackage.EraseSpec{
		Name:    inst.Name,
		Epoch:   inst.Epoch,
		Version: inst.Version,
		Release: inst.Release,
		Arch:    inst.Arch,
	}
}
