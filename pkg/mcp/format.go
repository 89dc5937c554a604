package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/meshbridge/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

func unixTime(sec float64) string {
	return time.Unix(0, int64(sec*float64(time.Second))).UTC().Format(timeLayout)
}

func formatGenerated(r models.GenResponse) string {
	return fmt.Sprintf("Generated %s\n  URL: %s\n", r.ID, r.URL)
}

func formatBatch(r models.BatchResponse) string {
	if len(r.Items) == 0 {
		return "No seeds requested."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%8s  %s\n", "Seed", "URL")
	b.WriteString(strings.Repeat("-", 60) + "\n")
	for _, it := range r.Items {
		fmt.Fprintf(&b, "%8d  %s\n", it.Seed, it.URL)
	}
	return b.String()
}

func formatSession(s *models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", s.ID)
	fmt.Fprintf(&b, "  Title:    %s\n", s.Title)
	fmt.Fprintf(&b, "  Created:  %s\n", unixTime(s.CreatedAt))
	fmt.Fprintf(&b, "  Defaults: seed=%d guidance_scale=%g steps=%d\n",
		s.Defaults.Seed, s.Defaults.GuidanceScale, s.Defaults.Steps)
	if len(s.Items) == 0 {
		b.WriteString("  No generations yet.\n")
		return b.String()
	}
	for i, it := range s.Items {
		fmt.Fprintf(&b, "\n#%d %s  %s\n", i+1, unixTime(it.CreatedAt), it.URL)
		fmt.Fprintf(&b, "   seed=%d guidance_scale=%g steps=%d\n",
			it.Params.Seed, it.Params.GuidanceScale, it.Params.Steps)
	}
	return b.String()
}

func formatSessions(list []models.SessionSummary) string {
	if len(list) == 0 {
		return "No sessions found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-32s %-30s %-20s %6s\n", "Session ID", "Title", "Created", "Items")
	b.WriteString(strings.Repeat("-", 91) + "\n")
	for _, s := range list {
		title := s.Title
		if len(title) > 30 {
			title = title[:27] + "..."
		}
		fmt.Fprintf(&b, "%-32s %-30s %-20s %6d\n", s.ID, title, unixTime(s.CreatedAt), s.ItemCount)
	}
	return b.String()
}

func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics (%s)\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Backend, stats.Entries, stats.Hits, stats.Misses, hitRate)
}

func formatSummary(rows []models.GenerationSummary) string {
	if len(rows) == 0 {
		return "No generations recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %8s %10s %14s\n", "Source", "Count", "Keys", "Avg ms")
	b.WriteString(strings.Repeat("-", 47) + "\n")
	for _, r := range rows {
		avg := int64(0)
		if r.Count > 0 {
			avg = r.TotalDuration / int64(r.Count)
		}
		fmt.Fprintf(&b, "%-12s %8d %10d %14d\n", r.Source, r.Count, r.DistinctKeys, avg)
	}
	return b.String()
}

func formatRecords(recs []models.GenerationRecord) string {
	if len(recs) == 0 {
		return "No generations recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %8s %8s  %s\n", "Time", "Source", "Seed", "ms", "URL")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "%-20s %-12s %8d %8d  %s\n",
			r.CreatedAt.UTC().Format(timeLayout), r.Source, r.Seed, r.DurationMs, r.URL)
	}
	return b.String()
}
