package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders execution records as a markdown document.
func ExportMarkdown(records []ExecutionRecord) string {
	var b strings.Builder

	b.WriteString("# Execution history\n\n")
	if len(records) == 0 {
		b.WriteString("_No executions recorded._\n")
		return b.String()
	}

	for _, r := range records {
		b.WriteString(fmt.Sprintf("## %s\n\n", r.ID))
		b.WriteString(fmt.Sprintf("- **Session:** %s\n", r.SessionID))
		b.WriteString(fmt.Sprintf("- **Outcome:** %s\n", r.Outcome))
		b.WriteString(fmt.Sprintf("- **Duration:** %dms\n", r.DurationMs))
		b.WriteString(fmt.Sprintf("- **Output:** %d bytes stdout, %d bytes stderr\n", r.StdoutBytes, r.StderrBytes))
		b.WriteString(fmt.Sprintf("- **Created:** %s\n\n", r.CreatedAt.Format("2006-01-02 15:04:05")))
		b.WriteString(fmt.Sprintf("```python\n%s\n```\n\n", strings.TrimRight(r.Code, "\n")))
	}

	return b.String()
}

// ExportJSON renders execution records as formatted JSON.
func ExportJSON(records []ExecutionRecord) ([]byte, error) {
	if records == nil {
		records = []ExecutionRecord{}
	}
	export := struct {
		Count      int               `json:"count"`
		Executions []ExecutionRecord `json:"executions"`
	}{
		Count:      len(records),
		Executions: records,
	}
	return json.MarshalIndent(export, "", "  ")
}
