package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/docdelta/diff"
)

// Format identifies a report output format.
type Format string

// Supported report output formats.
const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// FormatInfo provides metadata about an output format.
type FormatInfo struct {
	// Name is the format identifier.
	Name Format

	// MIMEType is the standard MIME type.
	MIMEType string

	// Extension is the file extension (with dot).
	Extension string

	// Description describes the format.
	Description string
}

// FormatRegistry contains metadata for all supported formats.
var FormatRegistry = map[Format]FormatInfo{
	FormatJSON: {
		Name:        FormatJSON,
		MIMEType:    "application/json",
		Extension:   ".json",
		Description: "JSON - machine-readable report",
	},
	FormatMarkdown: {
		Name:        FormatMarkdown,
		MIMEType:    "text/markdown",
		Extension:   ".md",
		Description: "Markdown - human-readable report",
	},
	FormatText: {
		Name:        FormatText,
		MIMEType:    "text/plain",
		Extension:   ".txt",
		Description: "Plain text - terminal summary",
	},
}

// GetFormatInfo returns metadata for a format.
func GetFormatInfo(format Format) (FormatInfo, bool) {
	info, ok := FormatRegistry[format]
	return info, ok
}

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := FormatRegistry[f]; !ok {
		return "", fmt.Errorf("unsupported format: %s", name)
	}
	return f, nil
}

// Render serializes a report in the given format.
func Render(r *Report, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatMarkdown:
		return renderMarkdown(r), nil
	case FormatText:
		return renderText(r), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// changeOrder fixes section ordering in rendered reports.
var changeOrder = []diff.ChangeType{
	diff.ChangeNew,
	diff.ChangeModified,
	diff.ChangeDeleted,
	diff.ChangeUnchanged,
}

var changeHeadings = map[diff.ChangeType]string{
	diff.ChangeNew:       "New",
	diff.ChangeModified:  "Modified",
	diff.ChangeDeleted:   "Deleted",
	diff.ChangeUnchanged: "Unchanged",
}

// MarkdownWriter accumulates a markdown document.
type MarkdownWriter struct {
	sb strings.Builder
}

// WriteHeading writes a heading at the given level.
func (w *MarkdownWriter) WriteHeading(level int, text string) {
	w.sb.WriteString(strings.Repeat("#", level))
	w.sb.WriteString(" ")
	w.sb.WriteString(text)
	w.sb.WriteString("\n\n")
}

// WriteLine writes a line of body text.
func (w *MarkdownWriter) WriteLine(text string) {
	w.sb.WriteString(text)
	w.sb.WriteString("\n")
}

// WriteListItem writes a bulleted list item.
func (w *MarkdownWriter) WriteListItem(text string) {
	w.sb.WriteString("- ")
	w.sb.WriteString(text)
	w.sb.WriteString("\n")
}

// WriteBlank writes a blank line for readability.
func (w *MarkdownWriter) WriteBlank() {
	w.sb.WriteString("\n")
}

// String returns the accumulated markdown output.
func (w *MarkdownWriter) String() string {
	return w.sb.String()
}

func renderMarkdown(r *Report) []byte {
	w := &MarkdownWriter{}

	w.WriteHeading(1, "Change Analysis Report")
	w.WriteLine(fmt.Sprintf("Document: %s (version %s)", r.Document.ID, r.Document.Version))
	w.WriteLine(fmt.Sprintf("Task: %s", r.TaskID))
	w.WriteLine(fmt.Sprintf("Status: %s", r.Status))
	w.WriteLine(fmt.Sprintf("Generated: %s", r.GeneratedAt.Format("2006-01-02 15:04:05 MST")))
	w.WriteBlank()

	w.WriteHeading(2, "Totals")
	w.WriteListItem(fmt.Sprintf("New: %d", r.Totals.New))
	w.WriteListItem(fmt.Sprintf("Modified: %d", r.Totals.Modified))
	w.WriteListItem(fmt.Sprintf("Deleted: %d", r.Totals.Deleted))
	w.WriteListItem(fmt.Sprintf("Unchanged: %d", r.Totals.Unchanged))
	if r.Totals.Unclassified > 0 {
		w.WriteListItem(fmt.Sprintf("Unclassified: %d", r.Totals.Unclassified))
	}
	w.WriteBlank()

	for _, ct := range changeOrder {
		records := r.Changes[ct]
		if len(records) == 0 || ct == diff.ChangeUnchanged {
			continue
		}

		w.WriteHeading(2, changeHeadings[ct])
		for _, rec := range records {
			writeRecordMarkdown(w, rec)
		}
		w.WriteBlank()
	}

	if len(r.Unclassified) > 0 {
		w.WriteHeading(2, "Unclassified")
		for _, ce := range r.Unclassified {
			w.WriteListItem(fmt.Sprintf("%s (%s): %s", ce.Title, ce.Kind, ce.Error))
		}
		w.WriteBlank()
	}

	if r.Elaboration != nil {
		w.WriteHeading(2, "Assessment")
		w.WriteLine(r.Elaboration.Summary)
		w.WriteBlank()
		if len(r.Elaboration.Recommendations) > 0 {
			w.WriteHeading(3, "Recommendations")
			for _, rec := range r.Elaboration.Recommendations {
				w.WriteListItem(rec)
			}
			w.WriteBlank()
		}
	}

	return []byte(w.String())
}

func writeRecordMarkdown(w *MarkdownWriter, rec diff.ChangeRecord) {
	title := rec.Title
	if title == "" {
		title = rec.ChunkRef
	}
	w.WriteListItem(fmt.Sprintf("**%s**: %s", title, rec.Reason))

	for _, item := range rec.Items {
		line := "  - " + item
		if detail, ok := rec.Details[item]; ok && detail != "" {
			line += ": " + detail
		}
		w.WriteLine(line)
	}
	if rec.DeletedItem != "" {
		w.WriteLine("  - removed: " + rec.DeletedItem)
	}
}

func renderText(r *Report) []byte {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s %s: %d new, %d modified, %d deleted, %d unchanged",
		r.Document.ID, r.Document.Version,
		r.Totals.New, r.Totals.Modified, r.Totals.Deleted, r.Totals.Unchanged)
	if r.Totals.Unclassified > 0 {
		fmt.Fprintf(&sb, ", %d unclassified", r.Totals.Unclassified)
	}
	sb.WriteString("\n")

	for _, ct := range changeOrder {
		if ct == diff.ChangeUnchanged {
			continue
		}
		for _, rec := range r.Changes[ct] {
			title := rec.Title
			if title == "" {
				title = rec.ChunkRef
			}
			fmt.Fprintf(&sb, "[%s] %s: %s\n", ct, title, rec.Reason)
		}
	}

	if r.Elaboration != nil && r.Elaboration.Summary != "" {
		sb.WriteString("\n")
		sb.WriteString(r.Elaboration.Summary)
		sb.WriteString("\n")
	}

	return []byte(sb.String())
}
