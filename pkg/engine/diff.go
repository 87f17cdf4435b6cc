package engine

import (
	"context"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/rhuss/plotwise/pkg/api"
)

// DefaultMaxDiffLines bounds the combined line count of two scripts that
// are diffed.
const DefaultMaxDiffLines = 5000

// Diff compares the script of run id (old side) with the script of run
// other (new side).
func (e *Engine) Diff(ctx context.Context, id, other string) (*api.ScriptDiff, error) {
	a, err := e.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := e.GetRun(ctx, other)
	if err != nil {
		return nil, err
	}

	d := &api.ScriptDiff{Object: "script.diff", RunID: id, OtherID: other, Lines: []api.DiffLine{}}
	limit := e.cfg.MaxDiffLines
	if limit <= 0 {
		limit = DefaultMaxDiffLines
	}
	if lineCount(a.Script)+lineCount(b.Script) > limit {
		d.Truncated = true
		return d, nil
	}
	d.Lines = diffLines(a.Script, b.Script)
	for _, l := range d.Lines {
		switch l.Type {
		case api.DiffAdded:
			d.Added++
		case api.DiffRemoved:
			d.Removed++
		}
	}
	return d, nil
}

func diffLines(before, after string) []api.DiffLine {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeChars, afterChars, false), lineArray)

	lines := []api.DiffLine{}
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		for _, text := range chunk {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, api.DiffLine{Type: api.DiffContext, Text: text, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, api.DiffLine{Type: api.DiffRemoved, Text: text, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, api.DiffLine{Type: api.DiffAdded, Text: text, NewLine: newLine})
				newLine++
			}
		}
	}
	return lines
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
