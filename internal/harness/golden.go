package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pvm/internal/ir"
)

// Canonical returns the golden form of a result: the canonical graph and
// the failed records' lines and codes, as canonical JSON.
func Canonical(scenarioName string, result *Result) ([]byte, error) {
	failures := make([]any, len(result.Failures))
	for i, f := range result.Failures {
		failures[i] = map[string]any{
			"line": f.Line,
			"code": f.Code,
		}
	}
	return ir.MarshalCanonical(map[string]any{
		"scenario": scenarioName,
		"graph":    result.Snapshot.Canonical(),
		"failures": failures,
	})
}

// RunWithGolden executes a scenario and compares its result against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against its golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Canonical(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
