// Package quality defines deterministic quality-control passes over drafted
// scenes. A pass is a pure function of (scenes, outline, config); it never
// mutates state and never calls out to a model backend.
//
// Passes report one of three outcomes: Pass, Fail (with findings), or
// Inconclusive. Inconclusive means the pass itself could not run to
// completion; it is a distinct outcome rather than a swallowed error so the
// caller can decide whether to halt or continue.
package quality

import (
	"fmt"

	"github.com/randalmurphal/novelforge/pkg/pipeline/config"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// Status is the outcome of a single quality pass.
type Status string

const (
	// StatusPass means the pass ran and found no problems.
	StatusPass Status = "pass"

	// StatusFail means the pass ran and produced at least one finding.
	StatusFail Status = "fail"

	// StatusInconclusive means the pass could not be evaluated.
	// The Result's Reason explains why.
	StatusInconclusive Status = "inconclusive"
)

// Finding is one problem reported by a pass.
type Finding struct {
	// Rule identifies which check produced the finding.
	Rule string `json:"rule"`

	// SceneID is the scene the finding applies to, if scene-scoped.
	SceneID string `json:"scene_id,omitempty"`

	// Detail is a human-readable description.
	Detail string `json:"detail"`
}

func (f Finding) String() string {
	if f.SceneID != "" {
		return fmt.Sprintf("%s [%s]: %s", f.Rule, f.SceneID, f.Detail)
	}
	return fmt.Sprintf("%s: %s", f.Rule, f.Detail)
}

// Result is the outcome of running one pass.
type Result struct {
	// PassName identifies the pass that produced this result.
	PassName string `json:"pass"`

	// Status is pass, fail, or inconclusive.
	Status Status `json:"status"`

	// Findings lists the problems found. Empty unless Status is fail.
	Findings []Finding `json:"findings,omitempty"`

	// Reason explains an inconclusive status. Empty otherwise.
	Reason string `json:"reason,omitempty"`
}

// OK reports whether the pass found no problems.
// Inconclusive results are not OK; the caller decides how to treat them.
func (r Result) OK() bool {
	return r.Status == StatusPass
}

// Pass is a single deterministic quality check.
//
// Check must be pure: no side effects, no retained references to its
// arguments, no model calls. A pass that cannot be evaluated returns an
// inconclusive Result instead of an error.
type Pass interface {
	// Name identifies the pass in results and reports.
	Name() string

	// Check evaluates the pass against the given scenes and outline.
	Check(scenes []state.Scene, outline *state.Outline, cfg *config.Config) Result
}

// pass(name) and fail(name, findings) build Results for implementations.

func pass(name string) Result {
	return Result{PassName: name, Status: StatusPass}
}

func fail(name string, findings []Finding) Result {
	return Result{PassName: name, Status: StatusFail, Findings: findings}
}

func inconclusive(name, reason string) Result {
	return Result{PassName: name, Status: StatusInconclusive, Reason: reason}
}

// Run executes every pass in order and returns all results.
// A panicking pass is reported as inconclusive rather than crashing the run.
func Run(passes []Pass, scenes []state.Scene, outline *state.Outline, cfg *config.Config) []Result {
	results := make([]Result, 0, len(passes))
	for _, p := range passes {
		results = append(results, runOne(p, scenes, outline, cfg))
	}
	return results
}

func runOne(p Pass, scenes []state.Scene, outline *state.Outline, cfg *config.Config) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = inconclusive(p.Name(), fmt.Sprintf("pass panicked: %v", r))
		}
	}()
	return p.Check(scenes, outline, cfg)
}

// AllOK reports whether every result passed.
func AllOK(results []Result) bool {
	for _, r := range results {
		if !r.OK() {
			return false
		}
	}
	return true
}

// Failures returns the findings from failed results, in order.
func Failures(results []Result) []Finding {
	var findings []Finding
	for _, r := range results {
		if r.Status == StatusFail {
			findings = append(findings, r.Findings...)
		}
	}
	return findings
}
