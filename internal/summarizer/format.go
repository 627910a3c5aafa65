package summarizer

import (
	"fmt"
	"strings"

	"github.com/xaenox/memory-service/internal/models"
)

const (
	summaryMarker = "=== CONVERSATION SUMMARY ==="
	recentMarker  = "=== RECENT MESSAGES ==="
	endMarker     = "=== END CONTEXT ==="

	timestampLayout = "2006-01-02 15:04"
)

// FormatContext renders the summary followed by the recent raw messages.
// It returns an empty string when there is neither.
func FormatContext(summary *models.Summary, recent []models.Message) string {
	hasSummary := summary != nil && summary.Content != ""
	if !hasSummary && len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	if hasSummary {
		b.WriteString(summaryMarker)
		b.WriteString("\n")
		b.WriteString(summary.Content)
		b.WriteString("\n")
		writeList(&b, "Topics", summary.Topics)
		writeList(&b, "Key decisions", summary.KeyDecisions)
		writeList(&b, "Important facts", summary.ImportantFacts)
		b.WriteString("\n")
	}

	if len(recent) > 0 {
		b.WriteString(recentMarker)
		b.WriteString("\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.UTC().Format(timestampLayout), m.Role, m.Content)
		}
	}

	b.WriteString(endMarker)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString(":\n")
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}
