package system_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-edge-platform/os-package-reconciler/internal/utils/shell"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/system"
)

func TestDetectOsDistribution(t *testing.T) {
	originalExecutor := shell.Default
	originalOsReleaseFile := system.OsReleaseFile
	defer func() {
		shell.Default = originalExecutor
		system.OsReleaseFile = originalOsReleaseFile
	}()

	tests := []struct {
		name         string
		osRelease    string
		mockCommands []shell.MockCommand
		wantName     string
		wantID       string
		wantArch     string
		wantRPM      bool
		wantManager  string
	}{
		{
			name: "fedora",
			osRelease: `NAME="Fedora Linux"
VERSION_ID=40
ID=fedora
`,
			mockCommands: []shell.MockCommand{{Pattern: "uname -m", Output: "x86_64\n"}},
			wantName:     "Fedora Linux",
			wantID:       "fedora",
			wantArch:     "x86_64",
			wantRPM:      true,
			wantManager:  "dnf",
		},
		{
			name: "azure_linux",
			osRelease: `NAME="Microsoft Azure Linux"
VERSION_ID="3.0"
ID=azurelinux
`,
			mockCommands: []shell.MockCommand{{Pattern: "uname -m", Output: "aarch64\n"}},
			wantName:     "Microsoft Azure Linux",
			wantID:       "azurelinux",
			wantArch:     "aarch64",
			wantRPM:      true,
			wantManager:  "tdnf",
		},
		{
			name: "id_like_fallback",
			osRelease: `NAME="Some Clone"
ID=someclone
ID_LIKE="rhel centos fedora"
`,
			mockCommands: []shell.MockCommand{{Pattern: "uname -m", Output: "x86_64\n"}},
			wantName:     "Some Clone",
			wantID:       "someclone",
			wantArch:     "x86_64",
			wantRPM:      true,
			wantManager:  "dnf",
		},
		{
			name: "debian",
			osRelease: `NAME="Debian GNU/Linux"
ID=debian
`,
			mockCommands: []shell.MockCommand{{Pattern: "uname -m", Output: "x86_64\n"}},
			wantName:     "Debian GNU/Linux",
			wantID:       "debian",
			wantArch:     "x86_64",
			wantRPM:      false,
			wantManager:  "apt",
		},
		{
			name: "unknown_id_uses_commands",
			osRelease: `NAME="Custom"
ID=custom
`,
			mockCommands: []shell.MockCommand{
				{Pattern: "uname -m", Output: "x86_64\n"},
				{Pattern: "command -v rpm", Output: "/usr/bin/rpm\n"},
			},
			wantName:    "Custom",
			wantID:      "custom",
			wantArch:    "x86_64",
			wantRPM:     true,
			wantManager: "rpm",
		},
		{
			name: "uname_failure_is_not_fatal",
			osRelease: `NAME="Fedora Linux"
ID=fedora
`,
			mockCommands: []shell.MockCommand{{Pattern: "uname -m", Error: fmt.Errorf("uname failed")}},
			wantName:     "Fedora Linux",
			wantID:       "fedora",
			wantArch:     "",
			wantRPM:      true,
			wantManager:  "dnf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			system.OsReleaseFile = filepath.Join(tempDir, "os-release")
			if err := os.WriteFile(system.OsReleaseFile, []byte(tt.osRelease), 0644); err != nil {
				t.Fatalf("failed to write os-release: %v", err)
			}
			shell.Default = shell.NewMockExecutor(tt.mockCommands)

			info, err := system.DetectOsDistribution(context.Background())
			if err != nil {
				t.Fatalf("DetectOsDistribution failed: %v", err)
			}
			if info.Name != tt.wantName || info.ID != tt.wantID || info.Arch != tt.wantArch {
				t.Errorf("got name=%q id=%q arch=%q", info.Name, info.ID, info.Arch)
			}
			if info.IsRPM() != tt.wantRPM {
				t.Errorf("IsRPM() = %v, want %v", info.IsRPM(), tt.wantRPM)
			}
			if len(info.PackageManagers) == 0 || info.PackageManagers[0] != tt.wantManager {
				t.Errorf("package managers = %v, want first %q", info.PackageManagers, tt.wantManager)
			}
		})
	}
}

func TestDetectOsDistributionMissingFile(t *testing.T) {
	originalOsReleaseFile := system.OsReleaseFile
	defer func() { system.OsReleaseFile = originalOsReleaseFile }()

	system.OsReleaseFile = filepath.Join(t.TempDir(), "missing")
	if _, err := system.DetectOsDistribution(context.Background()); err == nil {
		t.Fatal("expected error for missing os-release")
	}
}

func TestRequireRPMHost(t *testing.T) {
	originalExecutor := shell.Default
	originalOsReleaseFile := system.OsReleaseFile
	defer func() {
		shell.Default = originalExecutor
		system.OsReleaseFile = originalOsReleaseFile
	}()

	shell.Default = shell.NewMockExecutor([]shell.MockCommand{{Pattern: "uname -m", Output: "x86_64\n"}})
	system.OsReleaseFile = filepath.Join(t.TempDir(), "os-release")
	if err := os.WriteFile(system.OsReleaseFile, []byte("NAME=Ubuntu\nID=ubuntu\n"), 0644); err != nil {
		t.Fatalf("failed to write os-release: %v", err)
	}

	_, err := system.RequireRPMHost(context.Background())
	if err == nil || !strings.Contains(err.Error(), "does not use rpm") {
		t.Fatalf("expected non-rpm host error, got %v", err)
	}

	if err := os.WriteFile(system.OsReleaseFile, []byte("NAME=Rocky\nID=rocky\n"), 0644); err != nil {
		t.Fatalf("failed to write os-release: %v", err)
	}
	info, err := system.RequireRPMHost(context.Background())
	if err != nil {
		t.Fatalf("expected rpm host, got %v", err)
	}
	if info.Arch != "x86_64" {
		t.Errorf("expected arch x86_64, got %q", info.Arch)
	}
}
