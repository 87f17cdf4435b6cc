package engine

import (
	"fmt"
	"strings"

	"github.com/rhuss/plotwise/pkg/api"
)

// Limits for diagnostics included in a user-facing summary.
const (
	maxSummaryStderr = 2000
	maxSummaryStdout = 1000
)

// Describe renders a short user-facing summary of a run. It tells apart
// runs where nothing ran, runs that ran but produced no charts, and runs
// that ran and crashed, and appends captured diagnostics for failures.
func Describe(run *api.Run) string {
	var b strings.Builder
	switch {
	case run.Error == nil && run.NoArtifacts:
		fmt.Fprintf(&b, "The %s script ran successfully but produced no charts.", run.Route)
		if hint := noArtifactsHint(run); hint != "" {
			b.WriteString(" " + hint)
		}
	case run.Error == nil:
		fmt.Fprintf(&b, "Created %d chart(s) on the %s route:", len(run.Artifacts), run.Route)
		for _, a := range run.Artifacts {
			b.WriteString("\n  - " + a.Name)
		}
		if run.Insight != "" {
			b.WriteString("\n\n" + run.Insight)
		}
		return b.String()
	case run.Error.Code.Ran():
		fmt.Fprintf(&b, "The %s execution ran and failed (%s): %s", run.Route, run.Error.Code, run.Error.Message)
	default:
		fmt.Fprintf(&b, "Nothing was executed on the %s route (%s): %s", run.Route, run.Error.Code, run.Error.Message)
	}

	if s := strings.TrimSpace(run.Stderr); s != "" {
		b.WriteString("\n\nstderr:\n" + clip(s, maxSummaryStderr))
	}
	if s := strings.TrimSpace(run.Stdout); s != "" {
		b.WriteString("\n\nstdout:\n" + clip(s, maxSummaryStdout))
	}
	if len(run.Logs) > 0 {
		b.WriteString("\n\nlogs:\n" + clip(strings.Join(run.Logs, "\n"), maxSummaryStderr))
	}
	if run.Error != nil && run.Route == api.RouteRemote {
		b.WriteString("\n\nYou can retry on the local sandbox with route \"local\".")
	}
	return b.String()
}

func noArtifactsHint(run *api.Run) string {
	if run.Route == api.RouteLocal {
		return "Charts must be saved into OUTPUT_DIR as main.<ext> or graph_<n>.<ext>."
	}
	return ""
}

// clip cuts s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
