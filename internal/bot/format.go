package bot

import (
	"fmt"
	"strings"

	"github.com/xaenox/memory-service/internal/models"
)

func formatReport(r *models.AnalyticsReport) string {
	var b strings.Builder
	writeTitle(&b, fmt.Sprintf("Memory analytics, last %d days", r.WindowDays))
	writeLine(&b, fmt.Sprintf("Sessions: %d", r.TotalSessions))
	writeLine(&b, fmt.Sprintf("Messages: %d", r.TotalMessages))
	writeLine(&b, fmt.Sprintf("Cache hit rate (24h): %s", percent(r.CacheHitRate)))
	writeLine(&b, fmt.Sprintf("Memory hit rate (24h): %s", percent(r.MemoryHitRate)))
	writeLine(&b, fmt.Sprintf("Avg retrieved messages: %.2f", r.AvgRetrievedMessages))

	b.WriteString("\n")
	writeTitle(&b, "Daily")
	for _, d := range r.Daily {
		writeLine(&b, fmt.Sprintf("%s: %d stored, %d retrieved, %d sessions",
			d.Date, d.MessagesStored, d.Retrievals, d.Sessions))
	}

	if peak, count := peakHour(r.Hourly); count > 0 {
		b.WriteString("\n")
		writeLine(&b, fmt.Sprintf("Busiest hour (UTC): %02d:00 with %d events", peak, count))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRealTime(m *models.RealTimeMetrics) string {
	var b strings.Builder
	writeTitle(&b, fmt.Sprintf("Last %d minutes", m.WindowMinutes))
	writeLine(&b, fmt.Sprintf("Messages per minute: %.1f", m.MessagesPerMinute))
	writeLine(&b, fmt.Sprintf("Retrievals per minute: %.1f", m.RetrievalsPerMinute))
	writeLine(&b, fmt.Sprintf("Active sessions: %d", m.ActiveSessions))
	return strings.TrimRight(b.String(), "\n")
}

func formatFacts(title string, entries []models.CollectiveMemoryEntry) string {
	if len(entries) == 0 {
		return escapeMarkdown("No facts found.")
	}

	var b strings.Builder
	writeTitle(&b, title)
	for _, e := range entries {
		b.WriteString("\n")
		writeLine(&b, fmt.Sprintf("[%s] %s", e.Type, e.Content))
		writeLine(&b, fmt.Sprintf("importance %.2f, seen %d times", e.Importance, e.AccessCount))
		if len(e.Tags) > 0 {
			tags := make([]string, len(e.Tags))
			for i, tag := range e.Tags {
				tags[i] = "#" + strings.ReplaceAll(tag, " ", "_")
			}
			writeLine(&b, "Tags: "+strings.Join(tags, " "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func peakHour(hourly [24]int) (int, int) {
	peak := 0
	for h, n := range hourly {
		if n > hourly[peak] {
			peak = h
		}
	}
	return peak, hourly[peak]
}

func percent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}

func writeTitle(b *strings.Builder, title string) {
	b.WriteString("*")
	b.WriteString(escapeMarkdown(title))
	b.WriteString("*\n")
}

func writeLine(b *strings.Builder, line string) {
	b.WriteString(escapeMarkdown(line))
	b.WriteString("\n")
}

// escapeMarkdown escapes special characters for MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}
