package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is where golden traces live, relative to the test's package.
const GoldenDir = "testdata/golden"

// RunWithGolden executes a scenario, fails the test on assertion errors,
// and compares the trace against testdata/golden/{scenario.Name}.golden.
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
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the result's trace against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(result.TraceText()))
}

// Diff describes how a trace differs from golden text, or returns "" if
// they are equal. Used where no testing.T is available.
func Diff(golden, actual string) string {
	if golden == actual {
		return ""
	}
	g, a := splitLines(golden), splitLines(actual)
	n := len(g)
	if len(a) > n {
		n = len(a)
	}
	for i := 0; i < n; i++ {
		var gl, al string
		if i < len(g) {
			gl = g[i]
		}
		if i < len(a) {
			al = a[i]
		}
		if gl != al {
			return fmt.Sprintf("line %d:\n  golden: %q\n  actual: %q", i+1, gl, al)
		}
	}
	return "trailing newline differs"
}

func splitLines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
