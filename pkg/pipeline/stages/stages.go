// Package stages provides the built-in stage bodies of the generation
// plan: high-concept selection, outlining, character work, scene
// drafting, revision, and the final quality gate.
//
// Every stage body is a pure function of (state, injected dependencies)
// returning a mutation; none of them writes state directly.
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/randalmurphal/novelforge/pkg/pipeline"
	"github.com/randalmurphal/novelforge/pkg/pipeline/config"
	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
	"github.com/randalmurphal/novelforge/pkg/pipeline/llm"
)

// Stage identifiers, in plan order.
const (
	StageHighConcept = "high_concept"
	StageOutline     = "outline"
	StageCharacters  = "characters"
	StageRevision    = "revision"
	StageQualityGate = "quality_gate"

	// DraftGroup is the parallel-group tag shared by the per-chapter
	// drafting stages. Each chapter writes disjoint scenes, so the
	// group merges conflict-free.
	DraftGroup = "draft"
)

// ErrNoClient is returned when a billable stage runs without a model
// client on the context.
var ErrNoClient = errors.New("no model client configured")

// BuildPlan assembles the default plan for a project configuration.
func BuildPlan(cfg *config.Config) (*pipeline.Plan, error) {
	stages := []pipeline.Stage{
		HighConcept(),
		Outline(),
		Characters(),
	}
	stages = append(stages, DraftChapters(cfg.Project.Chapters)...)
	stages = append(stages, Revision(), QualityGate())
	return pipeline.NewPlan(stages...)
}

// requestFor builds a generation request from the project configuration.
func requestFor(cfg *config.Config, prompt, system string) llm.Request {
	req := llm.Request{Prompt: prompt, SystemPrompt: system}
	if cfg != nil {
		req.Model = cfg.LLM.Model
		req.Temperature = cfg.LLM.Temperature
		req.MaxTokens = cfg.LLM.MaxTokens
		req.Timeout = cfg.LLM.Timeout.Std()
	}
	return req
}

// generate runs one model call under the retry/breaker policy and
// records its cost against the ledger.
func generate(ctx pipeline.Context, prompt, system string) (*llm.Response, error) {
	client := ctx.LLM()
	if client == nil {
		return nil, ErrNoClient
	}
	req := requestFor(ctx.Config(), prompt, system)
	call := func(c context.Context) (*llm.Response, error) {
		return client.Generate(c, req)
	}

	var resp *llm.Response
	var err error
	if p := ctx.Policy(); p != nil {
		resp, err = pipeerrors.Call(ctx, p, client.Backend(), call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	if ledger := ctx.Ledger(); ledger != nil {
		_ = ledger.RecordCost(resp.CostUSD)
	}
	return resp, nil
}

// perCallEstimate is the worst-case cost of one full-length call.
func perCallEstimate(ctx pipeline.Context) float64 {
	client := ctx.LLM()
	if client == nil {
		return 0
	}
	return client.EstimateCostUSD(requestFor(ctx.Config(), "", ""))
}

// decodeJSON extracts and parses the JSON document in model output.
// Models often wrap JSON in prose or code fences; everything outside
// the outermost braces/brackets is ignored.
func decodeJSON(backend, content string, v any) error {
	doc := extractJSON(content)
	if doc == "" {
		return llm.MalformedOutput(backend, "no JSON document in output", nil)
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return llm.MalformedOutput(backend, "unparseable JSON in output", err)
	}
	return nil
}

func extractJSON(content string) string {
	objStart := strings.IndexAny(content, "{[")
	if objStart < 0 {
		return ""
	}
	var objEnd int
	if content[objStart] == '{' {
		objEnd = strings.LastIndex(content, "}")
	} else {
		objEnd = strings.LastIndex(content, "]")
	}
	if objEnd <= objStart {
		return ""
	}
	return content[objStart : objEnd+1]
}

// backendName names the configured backend for error construction.
func backendName(ctx pipeline.Context) string {
	if client := ctx.LLM(); client != nil {
		return client.Backend()
	}
	return "unknown"
}
