package ospackage

import (
	"context"
	"strconv"
	"strings"
)

// KeyPackageName is the pseudo package rpm uses for imported signing keys.
const KeyPackageName = "gpg-pubkey"

// UntrustedKeyID marks an installed package that carries no signature.
const UntrustedKeyID = "None"

// PackageInstance is one installed package record as reported by the backend.
type PackageInstance struct {
	Name     string `json:"name" yaml:"name"`
	Epoch    *int   `json:"epoch,omitempty" yaml:"epoch,omitempty"`
	Version  string `json:"version" yaml:"version"`
	Release  string `json:"release" yaml:"release"`
	Arch     string `json:"arch,omitempty" yaml:"arch,omitempty"` // empty when the backend reports none
	GPGKeyID string `json:"gpgKeyId,omitempty" yaml:"gpgKeyId,omitempty"`
}

// EVRA renders the instance as epoch:version-release.arch.
func (p PackageInstance) EVRA() string {
	return FormatEVRA(p.Epoch, p.Version, p.Release, p.Arch)
}

// Kind selects the comparison and remediation rules for a desired entry.
type Kind int

const (
	KindUnspecified Kind = iota
	KindNormal
	KindInstallOnly
	KindGPGKey
)

func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindInstallOnly:
		return "install-only"
	case KindGPGKey:
		return "gpg-key"
	default:
		return "unspecified"
	}
}

// ParseKind maps the document spelling of a kind back to its value.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return KindNormal
	case "install-only", "installonly":
		return KindInstallOnly
	case "gpg-key", "gpgkey":
		return KindGPGKey
	default:
		return KindUnspecified
	}
}

// Handle identifies a desired instance for the lifetime of the process.
type Handle uint64

// DesiredInstance is one declared version of a package.
type DesiredInstance struct {
	Handle      Handle   `json:"-" yaml:"-"`
	Legacy      bool     `json:"-" yaml:"-"` // synthesized from a flat entry version
	Version     string   `json:"version" yaml:"version"`
	Release     string   `json:"release" yaml:"release"`
	Epoch       *int     `json:"epoch,omitempty" yaml:"epoch,omitempty"`
	Arch        string   `json:"arch,omitempty" yaml:"arch,omitempty"`
	SimpleFile  string   `json:"simplefile,omitempty" yaml:"simplefile,omitempty"`
	VerifyFlags []string `json:"verifyFlags,omitempty" yaml:"verifyFlags,omitempty"`
	Ignore      []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`
}

// EVRA renders the instance as epoch:version-release.arch.
func (d *DesiredInstance) EVRA() string {
	return FormatEVRA(d.Epoch, d.Version, d.Release, d.Arch)
}

// DesiredEntry is the declared state of one package name.
type DesiredEntry struct {
	Name        string             `json:"name" yaml:"name"`
	Kind        Kind               `json:"-" yaml:"-"`
	KindName    string             `json:"kind,omitempty" yaml:"kind,omitempty"`
	Version     string             `json:"version,omitempty" yaml:"version,omitempty"`
	URL         string             `json:"url,omitempty" yaml:"url,omitempty"`
	URI         string             `json:"uri,omitempty" yaml:"uri,omitempty"`
	Epoch       *int               `json:"epoch,omitempty" yaml:"epoch,omitempty"`
	Arch        string             `json:"arch,omitempty" yaml:"arch,omitempty"`
	SimpleFile  string             `json:"simplefile,omitempty" yaml:"simplefile,omitempty"`
	VerifyFlags []string           `json:"verifyFlags,omitempty" yaml:"verifyFlags,omitempty"`
	Ignore      []string           `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	Instances   []*DesiredInstance `json:"instances,omitempty" yaml:"instances,omitempty"`

	// Filled in by verification.
	CurrentExists  *bool    `json:"-" yaml:"-"`
	CurrentVersion string   `json:"-" yaml:"-"`
	QText          string   `json:"-" yaml:"-"`
	Actions        []Action `json:"-" yaml:"-"`
}

// IsLegacy reports whether the entry was declared without instances.
func (e *DesiredEntry) IsLegacy() bool {
	if len(e.Instances) == 0 {
		return true
	}
	for _, inst := range e.Instances {
		if !inst.Legacy {
			return false
		}
	}
	return true
}

// ArtifactPath returns the location the backend should install inst from.
func (e *DesiredEntry) ArtifactPath(inst *DesiredInstance) string {
	if inst.Legacy && e.URL != "" {
		return e.URL
	}
	if inst.SimpleFile == "" {
		return ""
	}
	if e.URI == "" {
		return inst.SimpleFile
	}
	return strings.TrimRight(e.URI, "/") + "/" + inst.SimpleFile
}

// ActionKind tags one divergence found by verification.
type ActionKind int

const (
	ActionMissing ActionKind = iota
	ActionVersionMismatch
	ActionVerifyFailed
	ActionExtra
)

// Action is one divergence of an entry; Want and Have are rendered EVRA strings.
type Action struct {
	Kind ActionKind
	Want string
	Have string
}

// FileType is the rpm file class marker of a verify line.
type FileType byte

const (
	FileTypeNone    FileType = ' '
	FileTypeConfig  FileType = 'c'
	FileTypeDoc     FileType = 'd'
	FileTypeGhost   FileType = 'g'
	FileTypeLicense FileType = 'l'
	FileTypeReadme  FileType = 'r'
)

// FileResult is one failing file reported by backend verification.
type FileResult struct {
	Attributes string
	Type       FileType
	Path       string
}

// VerifyResult is the backend verification outcome for one installed instance.
type VerifyResult struct {
	NEVRA              string
	HeaderMismatch     bool
	DependencyMismatch bool
	Files              []FileResult
}

// EraseSpec selects installed packages to erase. Zero fields are not matched.
type EraseSpec struct {
	Name    string
	Epoch   *int
	Version string
	Release string
	Arch    string
}

// String renders the spec the way rpm accepts it on the command line.
func (s EraseSpec) String() string {
	out := s.Name
	if s.Version == "" {
		return out
	}
	out += "-"
	if s.Epoch != nil {
		out += strconv.Itoa(*s.Epoch) + ":"
	}
	out += s.Version
	if s.Release != "" {
		out += "-" + s.Release
		if s.Arch != "" {
			out += "." + s.Arch
		}
	}
	return out
}

// EraseFailure records one spec the backend could not erase.
type EraseFailure struct {
	Spec   EraseSpec
	Reason string
}

// HeaderRecord is the subset of an installed header returned by attribute queries.
type HeaderRecord struct {
	Name    string
	Version string
	Release string
}

// TransactionOptions modify install and upgrade transactions.
type TransactionOptions struct {
	AllowOlder bool
	Replace    bool
}

// Backend is the package manager the reconciler drives.
type Backend interface {
	QueryInstalled(ctx context.Context) ([]PackageInstance, error)
	Verify(ctx context.Context, inst PackageInstance, suppress []string) ([]VerifyResult, error)
	Install(ctx context.Context, paths []string, opts TransactionOptions) (string, error)
	Upgrade(ctx context.Context, paths []string, opts TransactionOptions) (string, error)
	Erase(ctx context.Context, specs []EraseSpec, flags []string) []EraseFailure
	ImportKey(ctx context.Context, path string) (string, error)
	QueryByAttribute(ctx context.Context, attr, value string) ([]HeaderRecord, error)
}
