package reconcile

import (
	"fmt"
	"strings"

	"github.com/open-edge-platform/os-package-reconciler/internal/ospackage"
)

// RenderTag renders one action the way confirmation prompts show it.
func RenderTag(a ospackage.Action) string {
	switch a.Kind {
	case ospackage.ActionMissing:
		return fmt.Sprintf("I(%s)", a.Want)
	case ospackage.ActionVersionMismatch:
		return fmt.Sprintf("U(%s -> %s)", a.Have, a.Want)
	case ospackage.ActionVerifyFailed:
		return fmt.Sprintf("R(%s)", a.Want)
	case ospackage.ActionExtra:
		return fmt.Sprintf("D(%s)", a.Have)
	default:
		return "?"
	}
}

// RenderPrompt builds the confirmation question for a diverged entry.
func RenderPrompt(entry *ospackage.DesiredEntry) string {
	var tags strings.Builder
	for _, a := range entry.Actions {
		tags.WriteString(RenderTag(a) + " ")
	}
	if entry.CurrentVersion == "" {
		return fmt.Sprintf("Install Package %s Instance(s) %s? (y/N) ", entry.Name, tags.String())
	}
	return fmt.Sprintf("Install/Upgrade/delete Package %s instance(s) - %s (y/N) ", entry.Name, tags.String())
}
