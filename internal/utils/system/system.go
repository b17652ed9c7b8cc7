package system

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/shell"
)

var OsReleaseFile = "/etc/os-release"

// OsDistribution contains information about the Linux OS distribution
type OsDistribution struct {
	Name            string   // Distribution name (e.g., "Fedora", "Azure Linux")
	Version         string   // Version (e.g., "38", "3.0")
	ID              string   // Distribution ID (e.g., "fedora", "azurelinux")
	IDLike          []string // Related distributions (e.g., ["rhel", "fedora"])
	Arch            string   // Machine architecture reported by uname
	PackageTypes    []string // Supported package types (e.g., ["rpm"])
	PackageManagers []string // Package managers (e.g., ["tdnf", "rpm"])
}

// IsRPM reports whether the distribution manages packages with rpm.
func (d *OsDistribution) IsRPM() bool {
	for _, t := range d.PackageTypes {
		if t == "rpm" {
			return true
		}
	}
	return false
}

// GetHostArch returns the machine architecture reported by uname.
func GetHostArch(ctx context.Context) (string, error) {
	output, err := shell.ExecCmd(ctx, "uname -m", false, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get host architecture: %w", err)
	}
	return strings.TrimSpace(output), nil
}

// DetectOsDistribution parses /etc/os-release and the host architecture and
// works out which package types the host supports.
func DetectOsDistribution(ctx context.Context) (*OsDistribution, error) {
	log := logger.Logger()
	osInfo := &OsDistribution{}

	file, err := os.Open(OsReleaseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", OsReleaseFile, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"")

		switch key {
		case "NAME":
			osInfo.Name = value
		case "VERSION_ID":
			osInfo.Version = value
		case "ID":
			osInfo.ID = strings.ToLower(value)
		case "ID_LIKE":
			// ID_LIKE can contain multiple space-separated values
			osInfo.IDLike = strings.Fields(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", OsReleaseFile, err)
	}

	if arch, err := GetHostArch(ctx); err != nil {
		log.Warnf("Could not determine host architecture: %v", err)
	} else {
		osInfo.Arch = arch
	}

	osInfo.PackageTypes, osInfo.PackageManagers = detectPackageSupport(osInfo.ID, osInfo.IDLike)
	if len(osInfo.PackageTypes) == 0 {
		log.Warnf("Could not determine package type for distribution: %s (ID: %s)", osInfo.Name, osInfo.ID)
	}

	log.Debugf("Detected OS distribution: %s %s (ID: %s, Arch: %s, Package Types: %v)",
		osInfo.Name, osInfo.Version, osInfo.ID, osInfo.Arch, osInfo.PackageTypes)

	return osInfo, nil
}

// RequireRPMHost fails unless the host distribution is rpm based.
func RequireRPMHost(ctx context.Context) (*OsDistribution, error) {
	osInfo, err := DetectOsDistribution(ctx)
	if err != nil {
		return nil, err
	}
	if !osInfo.IsRPM() {
		return osInfo, fmt.Errorf("host %q (ID: %s) does not use rpm packages", osInfo.Name, osInfo.ID)
	}
	return osInfo, nil
}

// detectPackageSupport determines the package types and managers based on distribution ID
func detectPackageSupport(id string, idLike []string) ([]string, []string) {
	if pkgTypes, pkgMgrs := getPackageInfoForID(id); len(pkgTypes) > 0 {
		return pkgTypes, pkgMgrs
	}
	for _, likeID := range idLike {
		if pkgTypes, pkgMgrs := getPackageInfoForID(likeID); len(pkgTypes) > 0 {
			return pkgTypes, pkgMgrs
		}
	}
	return detectFromCommands()
}

// getPackageInfoForID returns package types and managers for a given distribution ID
func getPackageInfoForID(id string) ([]string, []string) {
	switch strings.ToLower(id) {
	case "ubuntu", "debian", "linuxmint", "pop", "elementary", "kali", "raspbian", "elxr":
		return []string{"deb"}, []string{"apt", "dpkg"}
	case "fedora", "rhel", "centos", "rocky", "almalinux", "scientific", "oracle", "amzn":
		return []string{"rpm"}, []string{"dnf", "yum", "rpm"}
	case "opensuse", "opensuse-leap", "opensuse-tumbleweed", "sles", "sle":
		return []string{"rpm"}, []string{"zypper", "rpm"}
	case "mariner", "azurelinux", "emt":
		return []string{"rpm"}, []string{"tdnf", "rpm"}
	case "arch", "manjaro", "endeavouros":
		return []string{"pkg.tar.zst", "pkg.tar.xz"}, []string{"pacman"}
	case "alpine":
		return []string{"apk"}, []string{"apk"}
	default:
		return nil, nil
	}
}

// detectFromCommands attempts to detect package support by checking for package manager commands
func detectFromCommands() ([]string, []string) {
	checks := []struct {
		cmd          string
		packageTypes []string
		managers     []string
	}{
		{"dnf", []string{"rpm"}, []string{"dnf", "rpm"}},
		{"tdnf", []string{"rpm"}, []string{"tdnf", "rpm"}},
		{"yum", []string{"rpm"}, []string{"yum", "rpm"}},
		{"zypper", []string{"rpm"}, []string{"zypper", "rpm"}},
		{"rpm", []string{"rpm"}, []string{"rpm"}},
		{"apt", []string{"deb"}, []string{"apt"}},
		{"dpkg", []string{"deb"}, []string{"dpkg"}},
	}

	for _, check := range checks {
		exists, err := shell.IsCommandExist(check.cmd)
		if err == nil && exists {
			return check.packageTypes, check.managers
		}
	}
	return []string{}, []string{}
}
