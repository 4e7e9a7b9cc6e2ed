package stages

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/novelforge/pkg/pipeline"
	"github.com/randalmurphal/novelforge/pkg/pipeline/config"
	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// ErrNoViableConcept is returned under the hard_fail fallback policy
// when no generated candidate passes validation.
var ErrNoViableConcept = errors.New("no high-concept candidate passed validation")

// HighConcept returns the generate-and-validate concept stage.
//
// It generates the configured number of candidates, scores each with a
// deterministic validator (lower is better, zero passes), and selects
// the first passing one. When no candidate passes, the configured
// fallback policy decides: best_effort selects the lowest-penalty
// candidate; hard_fail fails the stage.
func HighConcept() pipeline.Stage {
	return pipeline.Stage{
		ID:       StageHighConcept,
		Billable: true,
		Estimate: func(ctx pipeline.Context, _ *state.PipelineState) float64 {
			candidates := 1
			if cfg := ctx.Config(); cfg != nil {
				candidates = cfg.HighConcept.Candidates
			}
			return float64(candidates) * perCallEstimate(ctx)
		},
		Run: runHighConcept,
	}
}

func runHighConcept(ctx pipeline.Context, st *state.PipelineState) (*pipeline.StageOutput, error) {
	cfg := ctx.Config()
	if cfg == nil {
		return nil, &pipeerrors.ConfigValidationError{Detail: "high_concept stage requires configuration"}
	}

	var (
		candidates []state.Concept
		tokens     int
		cost       float64
		lastErr    error
	)

	for i := 0; i < cfg.HighConcept.Candidates; i++ {
		resp, err := generate(ctx, conceptPrompt(cfg, i), conceptSystemPrompt)
		if err != nil {
			// Unusable output for one candidate is not fatal: the next
			// candidate is a regeneration with a varied prompt.
			if pipeerrors.Categorize(err) == pipeerrors.CategoryOutputQuality {
				lastErr = err
				continue
			}
			return partialOutput(tokens, cost), err
		}
		tokens += resp.TokensUsed
		cost += resp.CostUSD

		var parsed struct {
			Title   string `json:"title"`
			Logline string `json:"logline"`
		}
		if err := decodeJSON(backendName(ctx), resp.Content, &parsed); err != nil {
			lastErr = err
			continue
		}

		c := state.Concept{Title: parsed.Title, Logline: parsed.Logline}
		c.Score = scoreConcept(c)
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		if lastErr != nil {
			return partialOutput(tokens, cost), lastErr
		}
		return partialOutput(tokens, cost), ErrNoViableConcept
	}

	selected, ok := selectConcept(candidates)
	if !ok {
		switch cfg.HighConcept.Fallback {
		case config.FallbackBestEffort:
			selected = bestEffortConcept(candidates)
		default:
			return partialOutput(tokens, cost), fmt.Errorf("%w after %d candidates (best penalty %.0f)",
				ErrNoViableConcept, len(candidates), bestEffortConcept(candidates).Score)
		}
	}

	payload, _ := json.Marshal(struct {
		Selected   state.Concept `json:"selected"`
		Candidates int           `json:"candidates"`
	}{selected, len(candidates)})

	return &pipeline.StageOutput{
		Mutation: &state.Mutation{
			HighConceptCandidates:  candidates,
			HighConcept:            &selected,
			HighConceptFingerprint: conceptFingerprint(selected),
			CostUSD:                cost,
		},
		TokensUsed: tokens,
		Payload:    payload,
	}, nil
}

// partialOutput reports tokens and cost already spent when the stage
// fails. The mutation is never applied on failure; the ledger has the
// authoritative spend.
func partialOutput(tokens int, cost float64) *pipeline.StageOutput {
	return &pipeline.StageOutput{
		Mutation:   &state.Mutation{CostUSD: cost},
		TokensUsed: tokens,
	}
}

const conceptSystemPrompt = "You are a development editor pitching high-concept novel premises. " +
	"Respond with a single JSON object: {\"title\": ..., \"logline\": ...}."

func conceptPrompt(cfg *config.Config, attempt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pitch a high-concept premise for a %s novel titled %q.\n",
		cfg.Project.Genre, cfg.Project.Title)
	b.WriteString("The logline must be one or two sentences, concrete, and free of cliches.\n")
	if attempt > 0 {
		fmt.Fprintf(&b, "This is variation %d; take a different angle than the obvious one.\n", attempt+1)
	}
	return b.String()
}

// cliches are penalized by the validator. Deliberately short; the
// validator is deterministic, not a prose critic.
var cliches = []string{
	"in a world",
	"nothing will ever be the same",
	"race against time",
	"chosen one",
}

// scoreConcept assigns penalty points. Zero passes.
func scoreConcept(c state.Concept) float64 {
	var penalty float64
	title := strings.TrimSpace(c.Title)
	logline := strings.TrimSpace(c.Logline)

	if title == "" {
		penalty += 5
	}
	if len(logline) < 20 {
		penalty += 3
	}
	if len(logline) > 400 {
		penalty += 1
	}
	lower := strings.ToLower(logline)
	for _, phrase := range cliches {
		if strings.Contains(lower, phrase) {
			penalty += 1
		}
	}
	return penalty
}

// selectConcept returns the first zero-penalty candidate.
func selectConcept(candidates []state.Concept) (state.Concept, bool) {
	for _, c := range candidates {
		if c.Score == 0 {
			return c, true
		}
	}
	return state.Concept{}, false
}

// bestEffortConcept returns the lowest-penalty candidate, earliest on ties.
func bestEffortConcept(candidates []state.Concept) state.Concept {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score < best.Score {
			best = c
		}
	}
	return best
}

func conceptFingerprint(c state.Concept) string {
	sum := sha256.Sum256([]byte(c.Title + "|" + c.Logline))
	return hex.EncodeToString(sum[:])
}
