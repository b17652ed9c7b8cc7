package rpmutils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	gorpm "github.com/sassoftware/go-rpmutils"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/network"
)

// IsRemote reports whether path is a URL rpm fetches itself.
func IsRemote(path string) bool {
	for _, scheme := range []string{"http://", "https://", "ftp://"} {
		if strings.HasPrefix(path, scheme) {
			return true
		}
	}
	return false
}

// ReadArtifactNEVRA reads the header of a local rpm file.
func ReadArtifactNEVRA(path string) (ospackage.PackageInstance, error) {
	f, err := os.Open(path)
	if err != nil {
		return ospackage.PackageInstance{}, fmt.Errorf("failed to open package %s: %w", path, err)
	}
	defer f.Close()
	return headerNEVRA(f, path)
}

// ReadRemoteArtifactNEVRA streams only the header of a remote rpm.
func ReadRemoteArtifactNEVRA(ctx context.Context, client *http.Client, url string) (ospackage.PackageInstance, error) {
	body, err := network.OpenStream(ctx, client, url)
	if err != nil {
		return ospackage.PackageInstance{}, err
	}
	defer body.Close()
	return headerNEVRA(body, url)
}

func headerNEVRA(r io.Reader, path string) (ospackage.PackageInstance, error) {
	hdr, err := gorpm.ReadHeader(r)
	if err != nil {
		return ospackage.PackageInstance{}, fmt.Errorf("failed to read rpm header from %s: %w", path, err)
	}
	nevra, err := hdr.GetNEVRA()
	if err != nil {
		return ospackage.PackageInstance{}, fmt.Errorf("failed to read NEVRA from %s: %w", path, err)
	}

	inst := ospackage.PackageInstance{
		Name:    nevra.Name,
		Version: nevra.Version,
		Release: nevra.Release,
		Arch:    nevra.Arch,
	}
	if nevra.Epoch != "" {
		if e, err := strconv.Atoi(nevra.Epoch); err == nil {
			inst.Epoch = &e
		}
	}
	return inst, nil
}

// CompareEVRA orders two rendered epoch:version-release.arch strings the way
// rpm orders versions. Architecture is ignored; "*" sorts as epoch 0.
func CompareEVRA(a, b string) int {
	ae, av, ar := splitEVRA(a)
	be, bv, br := splitEVRA(b)
	if c := gorpm.Vercmp(ae, be); c != 0 {
		return c
	}
	if c := gorpm.Vercmp(av, bv); c != 0 {
		return c
	}
	return gorpm.Vercmp(ar, br)
}

func splitEVRA(s string) (epoch, version, release string) {
	epoch = "0"
	if i := strings.Index(s, ":"); i >= 0 {
		if s[:i] != "*" {
			epoch = s[:i]
		}
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "-"); i >= 0 {
		return epoch, s[:i], s[i+1:]
	}
	return epoch, s, ""
}
