package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/specwarden/internal/model"
)

// RunReport is the JSON document written for one verification run
type RunReport struct {
	Run    model.VerificationRun   `json:"run"`
	Health []model.APIHealthStatus `json:"health,omitempty"`
}

// Renderer writes run reports
type Renderer struct {
	// MaxFindings caps findings listed in the terminal summary; 0 lists all
	MaxFindings int
}

// NewRenderer creates a renderer
func NewRenderer(maxFindings int) *Renderer {
	return &Renderer{MaxFindings: maxFindings}
}

// RenderJSON writes the run and the health it produced as indented JSON
func (r *Renderer) RenderJSON(rep RunReport, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes a Markdown report of the run
func (r *Renderer) RenderMarkdown(rep RunReport, path string) error {
	var b strings.Builder
	run := rep.Run

	fmt.Fprintf(&b, "# Verification run %s\n\n", run.ID)
	fmt.Fprintf(&b, "- Mode: %s\n", run.Mode)
	fmt.Fprintf(&b, "- Status: **%s**\n", run.Status)
	if run.AbortReason != "" {
		fmt.Fprintf(&b, "- Abort reason: %s\n", run.AbortReason)
	}
	fmt.Fprintf(&b, "- Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Duration: %s\n", run.Duration())
	fmt.Fprintf(&b, "- Rules: %d\n", run.RuleCount)
	if run.RulesDigest != "" {
		fmt.Fprintf(&b, "- Rules digest: `%s`\n", run.RulesDigest)
	}

	b.WriteString("\n## APIs\n\n")
	b.WriteString("| API | Status | Errors | Warnings | Info | Rules |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, a := range run.APIs {
		status := string(a.Status)
		if a.FatalFetch {
			status += " (fetch)"
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %d |\n", a.API, status, a.Errors, a.Warnings, a.Infos, a.Rules)
	}

	b.WriteString("\n## Documents\n\n")
	b.WriteString("| Document | Version | Changed | Problem |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, d := range run.Documents {
		problem := d.FetchError
		if problem == "" {
			problem = d.ParseError
		}
		fmt.Fprintf(&b, "| %s | %s | %t | %s |\n", d.Name, d.Version, d.Changed, escapeCell(problem))
	}

	if len(run.Findings) > 0 {
		b.WriteString("\n## Findings\n\n")
		for _, f := range run.Findings {
			fmt.Fprintf(&b, "- %s\n", f.String())
		}
	}

	if len(rep.Health) > 0 {
		b.WriteString("\n## Health\n\n")
		b.WriteString("| API | State | Consecutive failures | Last successful run |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, h := range rep.Health {
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n", h.API, h.State, h.ConsecutiveFailures, h.LastSuccessfulRun)
		}
	}

	return writeFile(path, []byte(b.String()))
}

// RenderSummary prints a short run summary to w
func (r *Renderer) RenderSummary(w io.Writer, run model.VerificationRun) {
	counts := model.CountBySeverity(run.Findings)

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Run %s (%s)\n", run.ID, run.Mode)
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Status:    %s\n", run.Status)
	if run.AbortReason != "" {
		fmt.Fprintf(w, "  Reason:    %s\n", run.AbortReason)
	}
	fmt.Fprintf(w, "  Duration:  %s\n", run.Duration())
	fmt.Fprintf(w, "  Documents: %d\n", len(run.Documents))
	fmt.Fprintf(w, "  Rules:     %d\n", run.RuleCount)
	fmt.Fprintf(w, "  Findings:  %d error, %d warning, %d info\n",
		counts[model.SeverityError], counts[model.SeverityWarning], counts[model.SeverityInfo])
	fmt.Fprintf(w, "\n")

	for _, a := range run.APIs {
		fmt.Fprintf(w, "  %s %-28s %s\n", statusMark(a.Status), a.API, a.Status)
	}

	if len(run.Findings) == 0 {
		fmt.Fprintf(w, "\n")
		return
	}
	fmt.Fprintf(w, "\n")
	shown := run.Findings
	if r.MaxFindings > 0 && len(shown) > r.MaxFindings {
		shown = shown[:r.MaxFindings]
	}
	for _, f := range shown {
		fmt.Fprintf(w, "  %s\n", f.String())
	}
	if hidden := len(run.Findings) - len(shown); hidden > 0 {
		fmt.Fprintf(w, "  ... %d more (see --json report)\n", hidden)
	}
	fmt.Fprintf(w, "\n")
}

func statusMark(s model.APIStatus) string {
	switch s {
	case model.APIClean:
		return "✓"
	case model.APIFindings:
		return "!"
	}
	return "✗"
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
