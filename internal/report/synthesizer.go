package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/aggregator"
	"token-analyst/internal/llm"
	"token-analyst/internal/observability"
)

// maxStateBytes bounds the aggregated state embedded in a prompt.
const maxStateBytes = 24_000

// Synthesizer builds Reports from aggregated states.
type Synthesizer struct {
	llm    llm.Completer
	now    func() time.Time
	logger zerolog.Logger
}

// NewSynthesizer creates a Synthesizer. A nil completer always takes the
// heuristic path.
func NewSynthesizer(c llm.Completer) *Synthesizer {
	if c == nil {
		c = llm.Unavailable(fmt.Errorf("no language model configured"))
	}
	return &Synthesizer{
		llm:    c,
		now:    time.Now,
		logger: log.With().Str("component", "synthesizer").Logger(),
	}
}

// draft is the model's reply. Pointer fields distinguish missing from zero.
type draft struct {
	Recommendation string   `json:"recommendation"`
	Confidence     *float64 `json:"confidence"`
	RiskLevel      string   `json:"riskLevel"`
	Summary        string   `json:"summary"`
	Strengths      []string `json:"strengths"`
	Risks          []string `json:"risks"`
}

// Synthesize never fails. Fields the model omits or gets wrong are
// backfilled from the state; when the model fails entirely the report is
// heuristic.
func (s *Synthesizer) Synthesize(ctx context.Context, st *aggregator.State) *Report {
	f := collect(st)
	risk := f.riskLevel()
	rec := f.recommendation(risk)

	r := &Report{
		Token:          f.token,
		Recommendation: rec,
		Confidence:     f.confidence(),
		RiskLevel:      risk,
		Summary:        f.summary(rec, risk),
		Strengths:      f.strengths(),
		Risks:          f.risks(),
		Metrics:        f.metrics,
		SourceStatus:   st.Status(),
		Backfilled:     true,
		GeneratedAt:    s.now().UTC(),
	}

	d, err := s.draft(ctx, st)
	if err != nil {
		s.logger.Warn().Err(err).Str("input", st.Input).Msg("using heuristic report")
		observability.RecordReport(true)
		return r
	}

	r.Backfilled = apply(r, d)
	observability.RecordReport(r.Backfilled)
	return r
}

func (s *Synthesizer) draft(ctx context.Context, st *aggregator.State) (*draft, error) {
	prompt, err := analysisPrompt(st)
	if err != nil {
		return nil, err
	}
	text, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var d draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &d, nil
}

// apply overlays the valid fields of d onto r and reports whether any
// field had to be kept from the heuristic.
func apply(r *Report, d *draft) (backfilled bool) {
	if rec := Recommendation(strings.ToUpper(strings.TrimSpace(d.Recommendation))); rec.Valid() {
		r.Recommendation = rec
	} else {
		backfilled = true
	}
	if d.Confidence != nil && *d.Confidence >= 0 && *d.Confidence <= 1 {
		r.Confidence = *d.Confidence
	} else {
		backfilled = true
	}
	if lvl := RiskLevel(strings.ToUpper(strings.TrimSpace(d.RiskLevel))); lvl.Valid() {
		r.RiskLevel = lvl
	} else {
		backfilled = true
	}
	if s := strings.TrimSpace(d.Summary); s != "" {
		r.Summary = s
	} else {
		backfilled = true
	}
	if d.Strengths != nil {
		r.Strengths = nonEmpty(d.Strengths)
	} else {
		backfilled = true
	}
	if d.Risks != nil {
		r.Risks = nonEmpty(d.Risks)
	} else {
		backfilled = true
	}
	return backfilled
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func analysisPrompt(st *aggregator.State) (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err == nil {
		data = buf.Bytes()
	}
	if len(data) > maxStateBytes {
		data = append(data[:maxStateBytes:maxStateBytes], []byte("...(truncated)")...)
	}

	var sb strings.Builder
	sb.WriteString("You are a cautious crypto token analyst. Using only the data below, ")
	sb.WriteString("write an investment assessment of the token.\n\n")
	sb.WriteString("Reply with a single JSON object and nothing else:\n")
	sb.WriteString(`{"recommendation": "BUY|HOLD|SELL|AVOID", "confidence": 0.0-1.0, `)
	sb.WriteString(`"riskLevel": "LOW|MEDIUM|HIGH", "summary": "2-3 sentences", `)
	sb.WriteString(`"strengths": ["..."], "risks": ["..."]}` + "\n\n")
	sb.WriteString("Entries with success=false failed to load; do not invent their values. ")
	sb.WriteString("Entries with dataSource=generated are estimates.\n\n")
	sb.WriteString("DATA:\n")
	sb.Write(data)
	sb.WriteString("\n")
	return sb.String(), nil
}
