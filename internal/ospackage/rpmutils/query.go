package rpmutils

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

const (
	fieldSep      = "\t"
	warningPrefix = "warning:"
)

// rpm expands these escapes itself, which keeps the command on one line.
const (
	formatFieldSep = `\t`
	formatLineEnd  = `\n`
)

// Signature tags differ between rpm versions; the first one present wins.
const sigQueryFormat = "%|DSAHEADER?{%{DSAHEADER:pgpsig}}:{%|RSAHEADER?{%{RSAHEADER:pgpsig}}:" +
	"{%|SIGGPG?{%{SIGGPG:pgpsig}}:{%|SIGPGP?{%{SIGPGP:pgpsig}}:{(none)}|}|}|}|"

var installedQueryFormat = strings.Join([]string{
	"%{NAME}", "%{EPOCH}", "%{VERSION}", "%{RELEASE}", "%{ARCH}", sigQueryFormat,
}, formatFieldSep) + formatLineEnd

var headerQueryFormat = strings.Join([]string{"%{NAME}", "%{VERSION}", "%{RELEASE}"}, formatFieldSep) + formatLineEnd

var keyIDPattern = regexp.MustCompile(`(?i)key id ([0-9a-f]+)`)

// ParseInstalled parses rpm -qa output produced with installedQueryFormat.
// Records keep the order rpm printed them in; rpm warning lines are logged
// and skipped.
func ParseInstalled(output string) ([]ospackage.PackageInstance, error) {
	var out []ospackage.PackageInstance
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		// rpm's stderr arrives in the same stream
		if strings.HasPrefix(line, warningPrefix) {
			logger.Logger().Warnf("rpm: %s", strings.TrimSpace(strings.TrimPrefix(line, warningPrefix)))
			continue
		}
		fields := strings.Split(line, fieldSep)
		if len(fields) < 5 {
			return nil, fmt.Errorf("line %d: expected at least 5 fields, got %d", lineNo, len(fields))
		}
		epoch, err := ospackage.ParseEpoch(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		inst := ospackage.PackageInstance{
			Name:     fields[0],
			Epoch:    epoch,
			Version:  fields[2],
			Release:  fields[3],
			Arch:     noneToEmpty(fields[4]),
			GPGKeyID: ospackage.UntrustedKeyID,
		}
		if len(fields) > 5 {
			if id := ParseKeyID(fields[5]); id != "" {
				inst.GPGKeyID = id
			}
		}
		out = append(out, inst)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read package list: %w", err)
	}
	return out, nil
}

// ParseKeyID extracts the signing key id from rpm's pgpsig rendering.
func ParseKeyID(sig string) string {
	m := keyIDPattern.FindStringSubmatch(sig)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// ParseHeaders parses rpm -q output produced with headerQueryFormat.
func ParseHeaders(output string) []ospackage.HeaderRecord {
	var out []ospackage.HeaderRecord
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), fieldSep)
		if len(fields) != 3 || fields[0] == "" {
			continue
		}
		out = append(out, ospackage.HeaderRecord{Name: fields[0], Version: fields[1], Release: fields[2]})
	}
	return out
}

func noneToEmpty(s string) string {
	if s == "(none)" {
		return ""
	}
	return s
}
