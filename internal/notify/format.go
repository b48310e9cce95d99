package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// jobSeverity grades a finished job: aborted is an error, any failure a
// warning.
func jobSeverity(s Summary) string {
	switch {
	case s.Aborted:
		return "error"
	case s.Failed > 0:
		return "warning"
	default:
		return "success"
	}
}

// FormatJobSummary formats a finished bulk job.
func FormatJobSummary(s Summary) Message {
	severity := jobSeverity(s)

	verb := "completed"
	if s.Aborted {
		verb = "aborted"
	}
	title := fmt.Sprintf("Bulk job %s for %s", verb, s.TenantID)

	var body []string
	body = append(body, fmt.Sprintf("%d of %d messages sent", s.Sent, s.Total))
	if s.Aborted && s.AbortReason != "" {
		body = append(body, "Reason: "+s.AbortReason)
	}
	if s.Duration > 0 {
		body = append(body, "Took "+s.Duration.Round(time.Second).String())
	}

	fields := []Field{
		{Name: "Sent", Value: strconv.Itoa(s.Sent), Short: true},
		{Name: "Failed", Value: strconv.Itoa(s.Failed), Short: true},
	}
	if s.Skipped > 0 {
		fields = append(fields, Field{Name: "Skipped", Value: strconv.Itoa(s.Skipped), Short: true})
	}
	if s.JobID != "" {
		fields = append(fields, Field{Name: "Job", Value: s.JobID, Short: true})
	}

	return Message{
		Title:    title,
		Body:     strings.Join(body, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,
	}
}

// FormatDigest formats the daily per-tenant totals.
func FormatDigest(day time.Time, totals []TenantTotal) Message {
	title := "Daily digest " + day.Format("2006-01-02")
	if len(totals) == 0 {
		return Message{
			Title:    title,
			Body:     "No messages were sent.",
			Severity: "info",
			Color:    ColorInfo,
		}
	}

	var sent, failed int
	lines := make([]string, 0, len(totals))
	for _, t := range totals {
		sent += t.Sent
		failed += t.Failed
		line := fmt.Sprintf("%s: %d sent, %d failed", t.TenantID, t.Sent, t.Failed)
		if t.Skipped > 0 {
			line += fmt.Sprintf(", %d skipped", t.Skipped)
		}
		lines = append(lines, line)
	}

	return Message{
		Title:    title,
		Body:     strings.Join(lines, "\n"),
		Severity: "info",
		Color:    ColorInfo,
		Fields: []Field{
			{Name: "Tenants", Value: strconv.Itoa(len(totals)), Short: true},
			{Name: "Sent", Value: strconv.Itoa(sent), Short: true},
			{Name: "Failed", Value: strconv.Itoa(failed), Short: true},
		},
	}
}

// PlainText renders msg for platforms without rich attachments.
func PlainText(msg Message) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	if msg.Body != "" {
		b.WriteString("\n")
		b.WriteString(msg.Body)
	}
	for _, f := range msg.Fields {
		fmt.Fprintf(&b, "\n%s: %s", f.Name, f.Value)
	}
	return b.String()
}
