package rpmutils

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
)

// NotInstalledError is returned when rpm reports the verified package is absent.
type NotInstalledError struct {
	Spec string
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("package %s is not installed", e.Spec)
}

// ParseVerifyOutput turns rpm -V output for one package into a VerifyResult.
func ParseVerifyOutput(nevra, output string) (ospackage.VerifyResult, error) {
	res := ospackage.VerifyResult{NEVRA: nevra}
	inDeps := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if inDeps && (line[0] == ' ' || line[0] == '\t') {
			continue
		}
		inDeps = false

		switch {
		case strings.HasPrefix(line, "Unsatisfied dependencies"):
			res.DependencyMismatch = true
			inDeps = true
		case strings.HasPrefix(line, "package ") && strings.HasSuffix(line, " is not installed"):
			return res, &NotInstalledError{Spec: strings.TrimSuffix(strings.TrimPrefix(line, "package "), " is not installed")}
		case strings.HasPrefix(line, "error:"):
			lower := strings.ToLower(line)
			if strings.Contains(lower, "header") || strings.Contains(lower, "signature") || strings.Contains(lower, "digest") {
				res.HeaderMismatch = true
			}
		default:
			if fr, ok := parseFileLine(line); ok {
				res.Files = append(res.Files, fr)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("failed to read verify output: %w", err)
	}
	return res, nil
}

// parseFileLine parses "S.5....T.  c /etc/foo.conf" and "missing   c /etc/foo".
func parseFileLine(line string) (ospackage.FileResult, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ospackage.FileResult{}, false
	}
	attrs := fields[0]
	if attrs != "missing" && !isAttrField(attrs) {
		return ospackage.FileResult{}, false
	}

	rest := strings.TrimLeft(line[strings.Index(line, attrs)+len(attrs):], " \t")
	fr := ospackage.FileResult{Attributes: attrs, Type: ospackage.FileTypeNone}
	if len(rest) >= 2 && rest[1] == ' ' && isTypeMarker(rest[0]) {
		fr.Type = ospackage.FileType(rest[0])
		rest = strings.TrimLeft(rest[2:], " ")
	}
	if rest == "" {
		return ospackage.FileResult{}, false
	}
	fr.Path = rest
	return fr, true
}

func isAttrField(s string) bool {
	if len(s) < 8 || len(s) > 9 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("SM5DLUGTPV.?", r) {
			return false
		}
	}
	return true
}

func isTypeMarker(b byte) bool {
	switch ospackage.FileType(b) {
	case ospackage.FileTypeConfig, ospackage.FileTypeDoc, ospackage.FileTypeGhost,
		ospackage.FileTypeLicense, ospackage.FileTypeReadme:
		return true
	}
	return false
}
