package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/open-edge-platform/os-package-reconciler/internal/config/validate"
	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
)

// MaxDocumentSize bounds a decompressed desired-state document.
const MaxDocumentSize = 64 << 20

// DesiredState is the top-level desired-state document.
type DesiredState struct {
	Packages []*ospackage.DesiredEntry `json:"packages"`
}

// LoadDesiredState reads, decompresses, validates and decodes a desired-state
// document. The format is YAML or JSON; a .gz, .zst or .xz suffix selects
// the decompressor.
func LoadDesiredState(path string) ([]*ospackage.DesiredEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening desired state %s: %w", path, err)
	}
	defer f.Close()

	r, closeFn, err := decompressor(f, path)
	if err != nil {
		return nil, fmt.Errorf("opening desired state %s: %w", path, err)
	}
	defer closeFn()

	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading desired state %s: %w", path, err)
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("desired state %s exceeds %d bytes", path, MaxDocumentSize)
	}

	entries, err := ParseDesiredState(data)
	if err != nil {
		return nil, fmt.Errorf("loading desired state %s: %w", path, err)
	}
	return entries, nil
}

func decompressor(r io.Reader, path string) (io.Reader, func(), error) {
	noop := func() {}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("gzip: %w", err)
		}
		return zr, func() { zr.Close() }, nil
	case ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("zstd: %w", err)
		}
		return zr, zr.Close, nil
	case ".xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("xz: %w", err)
		}
		return xr, noop, nil
	default:
		return r, noop, nil
	}
}

// ParseDesiredState validates and decodes a YAML or JSON document.
func ParseDesiredState(data []byte) ([]*ospackage.DesiredEntry, error) {
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("converting document to JSON: %w", err)
	}
	if err := validate.ValidateDesiredStateJSON(jsonData); err != nil {
		return nil, err
	}

	var doc DesiredState
	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding desired state: %w", err)
	}
	for i, e := range doc.Packages {
		if e == nil {
			return nil, fmt.Errorf("package entry %d is empty", i)
		}
		e.Kind = ospackage.ParseKind(e.KindName)
	}
	return doc.Packages, nil
}
