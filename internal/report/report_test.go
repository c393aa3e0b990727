package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/specwarden/internal/model"
)

func sampleRun() model.VerificationRun {
	start := time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC)
	return model.VerificationRun{
		ID:        "run-001",
		Mode:      model.ModeFull,
		StartedAt: start,
		EndedAt:   start.Add(4 * time.Second),
		Status:    model.StatusCompletedWithFindings,
		Findings: []model.Finding{
			{Rule: model.RuleDanglingReference, Severity: model.SeverityError, API: "insurance-auto", Detail: "no definition for PersonBase"},
			{Rule: model.RulePolicyIDInjected, Severity: model.SeverityInfo, API: "insurance-auto", Field: "policyId", Detail: "policyId added"},
			{Rule: model.RuleFetchFailed, Severity: model.SeverityWarning, API: "accounts", Detail: "accounts.yaml: not found"},
		},
		APIs: []model.APIResult{
			{API: "accounts", Status: model.APIFindings, Warnings: 1},
			{API: "insurance-auto", Status: model.APIFindings, Errors: 1, Infos: 1, Rules: 2},
		},
		Documents: []model.DocumentSummary{
			{Name: "accounts.yaml", API: "accounts", FetchError: "not | found"},
			{Name: "insurance-auto.yaml", API: "insurance-auto", Version: "2.1.0", Changed: true},
		},
		RuleCount:   2,
		RulesDigest: "abc123",
	}
}

func TestRenderJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "run.json")
	rep := RunReport{Run: sampleRun(), Health: []model.APIHealthStatus{{API: "accounts", State: model.HealthDegraded}}}

	if err := NewRenderer(0).RenderJSON(rep, path); err != nil {
		t.Fatalf("RenderJSON: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded RunReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if decoded.Run.ID != "run-001" || len(decoded.Run.Findings) != 3 || decoded.Health[0].State != model.HealthDegraded {
		t.Errorf("decoded report = %+v", decoded)
	}
}

func TestRenderMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.md")
	if err := NewRenderer(0).RenderMarkdown(RunReport{Run: sampleRun()}, path); err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	data, _ := os.ReadFile(path)
	md := string(data)

	for _, want := range []string{
		"# Verification run run-001",
		"- Status: **completedWithFindings**",
		"| insurance-auto | findings | 1 | 0 | 1 | 2 |",
		`not \| found`,
		"dangling-reference",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	if strings.Contains(md, "## Health") {
		t.Error("health section rendered without health data")
	}
}

func TestRenderSummary_CapsFindings(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(1).RenderSummary(&buf, sampleRun())
	out := buf.String()

	if !strings.Contains(out, "1 error, 1 warning, 1 info") {
		t.Errorf("summary counts missing:\n%s", out)
	}
	if !strings.Contains(out, "... 2 more") {
		t.Errorf("summary should note hidden findings:\n%s", out)
	}
	if !strings.Contains(out, "✗") && !strings.Contains(out, "!") {
		t.Errorf("summary lacks status marks:\n%s", out)
	}
}
