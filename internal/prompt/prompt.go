// Package prompt renders review prompt templates. Rendering is pure: it
// performs no I/O and fails only on malformed template syntax.
package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

// FilePatch pairs a changed path with its diff text.
type FilePatch struct {
	Path  string
	Patch string
}

// Context is the data a template renders against.
type Context struct {
	RepoName     string
	BaseBranch   string
	TargetBranch string
	DiffStat     string
	Files        []FilePatch
}

// Render executes the template text against ctx. Template errors are the
// caller's fault (malformed template), surfaced as a single wrapped error.
func Render(templateText string, ctx Context) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=zero").Parse(templateText)
	if err != nil {
		return "", fmt.Errorf("parsing prompt template: %w", err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("rendering prompt template: %w", err)
	}
	return buf.String(), nil
}
