package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/foldersim/simcore/internal/types"
)

// parseSimilarity validates a --threshold flag value against spec bounds.
func parseSimilarity(f float64) (float64, error) {
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("similarity threshold must be between 0 and 1, got %v", f)
	}
	return f, nil
}

// validateGlobPatterns checks that all patterns are syntactically valid.
func validateGlobPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// printJSON writes v to stdout as indented JSON, the CLI's one output
// format (§6 "external interfaces" describe wire shapes, not a rendering;
// JSON keeps scan/plan/diff output scriptable).
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// humanizeBytes formats n as a human-readable byte size.
func humanizeBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}

// planFilePath is where a DeletionPlan is persisted so a later `confirm`
// invocation, running as a separate process, can re-load it by plan ID.
func planFilePath(planID string) string {
	return filepath.Join(os.TempDir(), "foldersim-plan-"+planID+".json")
}

// savePlanFile writes plan to its sidecar file.
func savePlanFile(plan types.DeletionPlan) error {
	f, err := os.Create(planFilePath(plan.PlanID))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return json.NewEncoder(f).Encode(plan)
}

// loadPlanFile reads a previously persisted DeletionPlan by ID.
func loadPlanFile(planID string) (*types.DeletionPlan, error) {
	f, err := os.Open(planFilePath(planID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var plan types.DeletionPlan
	if err := json.NewDecoder(f).Decode(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}
