package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// maxHistory is how many earlier exchanges are replayed to the model.
const maxHistory = 6

// Answer replies to a follow-up question about r. When the model fails the
// answer is a plain restatement of the report.
func (s *Synthesizer) Answer(ctx context.Context, r *Report, history []Exchange, question string) string {
	question = strings.TrimSpace(question)
	if r == nil {
		return "No analysis is available yet. Analyze a token first, then ask about it."
	}

	text, err := s.llm.Complete(ctx, answerPrompt(r, history, question))
	if err == nil {
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	s.logger.Warn().Err(err).Str("token", r.DisplayName()).Msg("using fallback answer")
	return fallbackAnswer(r)
}

func answerPrompt(r *Report, history []Exchange, question string) string {
	data, _ := json.Marshal(r)

	var sb strings.Builder
	sb.WriteString("You are a crypto token analyst answering follow-up questions about a report you wrote. ")
	sb.WriteString("Answer briefly and only from the report; say so when it does not cover the question.\n\n")
	sb.WriteString("REPORT:\n")
	sb.Write(data)
	sb.WriteString("\n\n")
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	for _, ex := range history {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", ex.Question, ex.Answer)
	}
	fmt.Fprintf(&sb, "Q: %s\nA:", question)
	return sb.String()
}

func fallbackAnswer(r *Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The analysis of %s recommends %s with %s risk (confidence %.0f%%). %s",
		r.DisplayName(), r.Recommendation, r.RiskLevel, r.Confidence*100, r.Summary)
	if len(r.Risks) > 0 {
		fmt.Fprintf(&sb, " Key risks: %s.", strings.Join(r.Risks, "; "))
	}
	return sb.String()
}
