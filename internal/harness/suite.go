package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path yields no files.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("no scenario files found at %s", e.Path)
}

// DiscoverScenarios expands path into scenario files. A file is returned
// as is; a directory yields its *.yaml and *.yml files in name order.
func DiscoverScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		paths = append(paths, filepath.Join(path, entry.Name()))
	}
	if len(paths) == 0 {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	sort.Strings(paths)
	return paths, nil
}

// SuiteResult summarizes a run over several scenario files.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents one failed scenario file.
type ScenarioFailure struct {
	Scenario     string   `json:"scenario,omitempty"`
	ScenarioPath string   `json:"scenario_path"`
	Errors       []string `json:"errors"`
}

// RunSuite loads and runs every scenario file in paths. Files that fail to
// load count as failures; the suite keeps going.
func RunSuite(ctx context.Context, paths []string) *SuiteResult {
	result := &SuiteResult{}

	for _, path := range paths {
		result.TotalScenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.fail(ScenarioFailure{
				ScenarioPath: path,
				Errors:       []string{fmt.Sprintf("failed to load scenario: %v", err)},
			})
			continue
		}

		runResult, err := Run(ctx, scenario)
		if err != nil {
			result.fail(ScenarioFailure{
				Scenario:     scenario.Name,
				ScenarioPath: path,
				Errors:       []string{fmt.Sprintf("scenario execution failed: %v", err)},
			})
			continue
		}

		if !runResult.Pass {
			result.fail(ScenarioFailure{
				Scenario:     scenario.Name,
				ScenarioPath: path,
				Errors:       runResult.Errors,
			})
			continue
		}

		result.Passed++
	}

	return result
}

func (r *SuiteResult) fail(f ScenarioFailure) {
	r.Failed++
	r.Failures = append(r.Failures, f)
}
