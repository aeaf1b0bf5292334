package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Token Report: %s\n\n", r.DisplayName()))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.Token.Name != "" || r.Token.Address != "" {
		sb.WriteString(fmt.Sprintf("Name: %s | Address: `%s`\n\n", orDash(r.Token.Name), orDash(r.Token.Address)))
	}

	// Verdict
	sb.WriteString("## Verdict\n\n")
	sb.WriteString("| Recommendation | Confidence | Risk |\n")
	sb.WriteString("|----------------|------------|------|\n")
	sb.WriteString(fmt.Sprintf("| **%s** | %.0f%% | %s |\n\n", r.Recommendation, r.Confidence*100, r.RiskLevel))
	sb.WriteString(r.Summary)
	sb.WriteString("\n\n")
	if r.Backfilled {
		sb.WriteString("_Some fields were derived heuristically from the collected data._\n\n")
	}

	// Metrics
	m := r.Metrics
	sb.WriteString("## Metrics\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Price (USD) | %s |\n", price(m.PriceUSD)))
	sb.WriteString(fmt.Sprintf("| Liquidity (USD) | %s |\n", compact(m.LiquidityUSD)))
	sb.WriteString(fmt.Sprintf("| Volume 24h (USD) | %s |\n", compact(m.Volume24h)))
	sb.WriteString(fmt.Sprintf("| Price Change 24h | %+.2f%% |\n", m.PriceChange24h))
	sb.WriteString(fmt.Sprintf("| Holders | %d |\n", m.HolderCount))
	sb.WriteString(fmt.Sprintf("| Top 10 Concentration | %.2f%% |\n", m.Top10Concentration))
	sb.WriteString(fmt.Sprintf("| Sentiment | %.2f |\n", m.SentimentScore))
	sb.WriteString("\n")

	writeList(&sb, "Strengths", r.Strengths, "None identified.")
	writeList(&sb, "Risks", r.Risks, "None identified.")

	// Sources
	sb.WriteString("## Sources\n\n")
	keys := make([]string, 0, len(r.SourceStatus))
	for k := range r.SourceStatus {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		status := "FAIL"
		if r.SourceStatus[k] {
			status = "OK"
		}
		sb.WriteString(fmt.Sprintf("- %s: %s\n", k, status))
	}

	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string, empty string) {
	sb.WriteString(fmt.Sprintf("## %s\n\n", title))
	if len(items) == 0 {
		sb.WriteString(empty + "\n\n")
		return
	}
	for _, it := range items {
		sb.WriteString(fmt.Sprintf("- %s\n", it))
	}
	sb.WriteString("\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
