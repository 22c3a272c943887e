// File: internal/report/report.go

// Package report renders analysis output for the terminal. Two formats are
// supported: a human-readable text layout and indented JSON for downstream
// tooling. Renderers consume only the canonical envelopes; they never touch
// raw agent payloads.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
)

// Reporter writes analysis output in one format.
type Reporter interface {
	// WriteAggregated renders a consolidated coordinator report.
	WriteAggregated(agg schemas.AggregatedResult) error
	// WriteAnswer renders one agent's normalized response.
	WriteAnswer(agentName string, resp schemas.NormalizedAgentResponse) error
	// WriteUpload renders the per-file outcome of a batch upload.
	WriteUpload(res schemas.UploadResult) error
	// Close finalizes the report and releases the underlying writer.
	Close() error
}

// nopWriteCloser wraps an io.Writer with a no-op Close.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error { return nil }

// New creates a reporter for the given format writing to outputPath, with
// "" or "stdout" meaning standard output.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "json":
		return &jsonReporter{w: writer}, nil
	case "text", "":
		return &textReporter{w: writer}, nil
	default:
		if !isStdOut {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// -- JSON --

type jsonReporter struct {
	w io.WriteCloser
}

func (r *jsonReporter) WriteAggregated(agg schemas.AggregatedResult) error {
	return r.emit(agg)
}

func (r *jsonReporter) WriteAnswer(agentName string, resp schemas.NormalizedAgentResponse) error {
	return r.emit(struct {
		Agent    string                          `json:"agent"`
		Response schemas.NormalizedAgentResponse `json:"response"`
	}{Agent: agentName, Response: resp})
}

func (r *jsonReporter) WriteUpload(res schemas.UploadResult) error {
	return r.emit(res)
}

func (r *jsonReporter) Close() error { return r.w.Close() }

func (r *jsonReporter) emit(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	b = append(b, '\n')
	if _, err := r.w.Write(b); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// -- Text --

type textReporter struct {
	w io.WriteCloser
}

func (r *textReporter) WriteAggregated(agg schemas.AggregatedResult) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Due Diligence Report (run %s)\n", agg.RunID)
	b.WriteString(strings.Repeat("=", 60) + "\n")

	if agg.Error != "" {
		fmt.Fprintf(&b, "Analysis failed: %s\n", agg.Error)
		_, err := io.WriteString(r.w, b.String())
		return err
	}

	fmt.Fprintf(&b, "Overall risk: %d/100 (%s)\n", agg.OverallRiskScore, agg.RiskBand)
	fmt.Fprintf(&b, "Recommendation: %s\n\n", agg.Recommendation)

	if agg.ExecutiveSummary != "" {
		b.WriteString("Executive summary\n")
		fmt.Fprintf(&b, "  %s\n\n", agg.ExecutiveSummary)
	}

	if len(agg.KeyFindings) > 0 {
		b.WriteString("Key findings\n")
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  SEVERITY\tCATEGORY\tFINDING\tSOURCE")
		for _, f := range agg.KeyFindings {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", f.Severity, f.Category, f.Finding, f.SourceAgent)
		}
		tw.Flush()
		b.WriteString("\n")
	}

	if len(agg.PrioritizedRisks) > 0 {
		b.WriteString("Prioritized risks\n")
		for _, risk := range agg.PrioritizedRisks {
			fmt.Fprintf(&b, "  - %s (impact %s, likelihood %s)\n    mitigation: %s\n",
				risk.Risk, risk.Impact, risk.Likelihood, risk.Mitigation)
		}
		b.WriteString("\n")
	}

	if len(agg.CrossReferencedInsights) > 0 {
		b.WriteString("Cross-referenced insights\n")
		for _, ins := range agg.CrossReferencedInsights {
			fmt.Fprintf(&b, "  - %s\n", ins)
		}
		b.WriteString("\n")
	}

	if len(agg.ActionItems) > 0 {
		b.WriteString("Action items\n")
		for _, item := range agg.ActionItems {
			fmt.Fprintf(&b, "  - %s\n", item)
		}
		b.WriteString("\n")
	}

	if len(agg.SubAgentSummaries) > 0 {
		b.WriteString("Agent contributions\n")
		for _, s := range agg.SubAgentSummaries {
			fmt.Fprintf(&b, "  %s [%s]: %s\n", s.AgentName, s.Status, s.Summary)
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *textReporter) WriteAnswer(agentName string, resp schemas.NormalizedAgentResponse) error {
	var b strings.Builder

	if resp.Failed() {
		fmt.Fprintf(&b, "%s: %s\n", agentName, resp.Response.Message)
		_, err := io.WriteString(r.w, b.String())
		return err
	}

	result := resp.Response.Result
	switch {
	case result.DocumentQA != nil:
		qa := result.DocumentQA
		fmt.Fprintf(&b, "%s (confidence %d%%)\n\n%s\n", agentName, qa.ConfidenceScore, qa.Answer)
		if len(qa.Citations) > 0 {
			b.WriteString("\nSources\n")
			for _, c := range qa.Citations {
				b.WriteString("  - " + formatCitation(c) + "\n")
			}
		}
		if len(qa.RelatedTopics) > 0 {
			fmt.Fprintf(&b, "\nRelated topics: %s\n", strings.Join(qa.RelatedTopics, ", "))
		}

	case result.Analyst != nil:
		an := result.Analyst
		fmt.Fprintf(&b, "%s (risk %d/100, confidence %d%%)\n\n%s\n", agentName, an.RiskScore, an.ConfidenceScore, an.Summary)
		if len(an.KeyFindings) > 0 {
			b.WriteString("\nFindings\n")
			for _, f := range an.KeyFindings {
				fmt.Fprintf(&b, "  - %s\n", f)
			}
		}

	case result.Coordinator != nil:
		return r.WriteAggregated(schemas.AggregatedResult{
			OverallRiskScore:        result.Coordinator.OverallRiskScore,
			RiskBand:                schemas.BandForScore(result.Coordinator.OverallRiskScore),
			Recommendation:          result.Coordinator.Recommendation,
			ExecutiveSummary:        result.Coordinator.ExecutiveSummary,
			KeyFindings:             result.Coordinator.KeyFindings,
			CrossReferencedInsights: result.Coordinator.CrossReferencedInsights,
			PrioritizedRisks:        result.Coordinator.PrioritizedRisks,
			ActionItems:             result.Coordinator.ActionItems,
			SubAgentSummaries:       result.Coordinator.SubAgentSummaries,
		})

	default:
		fmt.Fprintf(&b, "%s: result has no renderable payload\n", agentName)
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *textReporter) WriteUpload(res schemas.UploadResult) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Stored %d asset(s)\n", len(res.AssetIDs))
	for _, id := range res.AssetIDs {
		fmt.Fprintf(&b, "  - %s\n", id)
	}
	if len(res.Failures) > 0 {
		fmt.Fprintf(&b, "Failed %d file(s)\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Fprintf(&b, "  - %s: %s\n", f.Filename, f.Reason)
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *textReporter) Close() error { return r.w.Close() }

func formatCitation(c schemas.Citation) string {
	out := c.Source
	if c.Page > 0 {
		out += fmt.Sprintf(", p.%d", c.Page)
	}
	if c.Paragraph != "" {
		out += ", " + c.Paragraph
	}
	return out
}
