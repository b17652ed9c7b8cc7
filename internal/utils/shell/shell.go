package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

// Executor runs shell command strings. Default is swapped for a MockExecutor in tests.
type Executor interface {
	ExecCmd(ctx context.Context, cmdStr string, sudo bool, envVal []string) (string, error)
	IsCommandExist(cmd string) (bool, error)
}

// DefaultExecutor runs commands through the host shell.
type DefaultExecutor struct{}

var Default Executor = &DefaultExecutor{}

// ExecCmd runs cmdStr with the Default executor.
func ExecCmd(ctx context.Context, cmdStr string, sudo bool, envVal []string) (string, error) {
	return Default.ExecCmd(ctx, cmdStr, sudo, envVal)
}

// IsCommandExist reports whether cmd resolves on the host PATH.
func IsCommandExist(cmd string) (bool, error) {
	return Default.IsCommandExist(cmd)
}

// ExitError carries the exit status and combined output of a failed command.
type ExitError struct {
	Cmd      string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("failed to exec %s (exit %d): %v", e.Cmd, e.ExitCode, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the exit status carried by err: 0 for nil, -1 when the
// command never produced one.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode
	}
	return -1
}

// Quote single-quotes s for the shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>()*?[]{}~!#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// getShell returns the preferred shell, falling back to /bin/sh if bash is not available
func getShell() string {
	shells := []string{"/bin/bash", "/usr/bin/bash", "/bin/sh"}
	for _, shell := range shells {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}

// GetFullCmdStr prepares a command string with the sudo and environment prefixes.
func GetFullCmdStr(cmdStr string, sudo bool, envVal []string) string {
	log := logger.Logger()

	envValStr := ""
	for _, env := range envVal {
		envValStr += env + " "
	}

	if sudo {
		log.Debugf("Exec: [sudo %s]", cmdStr)
		return "sudo " + envValStr + cmdStr
	}
	log.Debugf("Exec: [%s]", cmdStr)
	if envValStr != "" {
		return "env " + envValStr + cmdStr
	}
	return cmdStr
}

func (d *DefaultExecutor) ExecCmd(ctx context.Context, cmdStr string, sudo bool, envVal []string) (string, error) {
	log := logger.Logger()
	fullCmdStr := GetFullCmdStr(cmdStr, sudo, envVal)

	cmd := exec.CommandContext(ctx, getShell(), "-c", fullCmdStr)
	output, err := cmd.CombinedOutput()
	outputStr := string(output)

	if err != nil {
		if outputStr != "" {
			log.Debugf("%s", outputStr)
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return outputStr, &ExitError{Cmd: fullCmdStr, ExitCode: code, Output: outputStr, Err: err}
	}
	if outputStr != "" {
		log.Debugf("%s", outputStr)
	}
	return outputStr, nil
}

func (d *DefaultExecutor) IsCommandExist(cmd string) (bool, error) {
	if _, err := exec.LookPath(cmd); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MockCommand maps a command regexp to a canned result.
type MockCommand struct {
	Pattern string
	Output  string
	Error   error
}

// MockExecutor answers commands from a MockCommand table and records every call.
// The first matching pattern wins.
type MockExecutor struct {
	mu       sync.Mutex
	commands []MockCommand
	Calls    []string
}

func NewMockExecutor(commands []MockCommand) *MockExecutor {
	return &MockExecutor{commands: commands}
}

func (m *MockExecutor) ExecCmd(ctx context.Context, cmdStr string, sudo bool, envVal []string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmdStr)
	m.mu.Unlock()

	for _, c := range m.commands {
		matched, err := regexp.MatchString(c.Pattern, cmdStr)
		if err != nil {
			return "", fmt.Errorf("bad mock pattern %q: %w", c.Pattern, err)
		}
		if !matched {
			continue
		}
		if c.Error != nil {
			var ee *ExitError
			if !errors.As(c.Error, &ee) {
				return c.Output, &ExitError{Cmd: cmdStr, ExitCode: 1, Output: c.Output, Err: c.Error}
			}
			return c.Output, c.Error
		}
		return c.Output, nil
	}
	return "", &ExitError{Cmd: cmdStr, ExitCode: 127, Err: fmt.Errorf("unexpected command for mock: %s", cmdStr)}
}

func (m *MockExecutor) IsCommandExist(cmd string) (bool, error) {
	out, err := m.ExecCmd(context.Background(), "command -v "+cmd, false, nil)
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) != "", nil
}

// CallCount returns how many recorded calls match pattern.
func (m *MockExecutor) CallCount(pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	re := regexp.MustCompile(pattern)
	n := 0
	for _, c := range m.Calls {
		if re.MatchString(c) {
			n++
		}
	}
	return n
}
