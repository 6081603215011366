package console

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// sourceCache remembers the last-viewed source of each task by id, so a
// second view of the same task can render a diff against what changed
// since it was last opened instead of the full body again. A task's
// source can change between job submissions (a new version replacing an
// old one while jobs from the old version are still in flight), and the
// diff is what an operator actually wants to see.
type sourceCache struct {
	byTaskID map[int64]TaskView
}

func newSourceCache() *sourceCache {
	return &sourceCache{byTaskID: make(map[int64]TaskView)}
}

// render formats a freshly fetched task for the detail panel: a
// character-level diff against the previously cached copy if one exists
// and its Version differs, otherwise the full source rendered as Markdown.
func (c *sourceCache) render(tv TaskView) string {
	prev, seen := c.byTaskID[tv.TaskID]
	c.byTaskID[tv.TaskID] = tv

	if seen && prev.Version != tv.Version {
		return renderSourceDiff(prev, tv)
	}
	return renderSourceMarkdown(tv)
}

func renderSourceMarkdown(tv TaskView) string {
	body := fmt.Sprintf("# %s (v%s)\n\n```javascript\n%s\n```\n", tv.Name, tv.Version, tv.SourceCode)
	out, err := glamour.Render(body, "dark")
	if err != nil {
		return body
	}
	return out
}

// renderSourceDiff builds a character-level diff between two versions of
// the same task's source, annotated with the version numbers either side.
func renderSourceDiff(prev, next TaskView) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(prev.SourceCode, next.SourceCode, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	header := fmt.Sprintf("%s: v%s -> v%s\n\n", next.Name, prev.Version, next.Version)
	return header + dmp.DiffPrettyText(diffs)
}
