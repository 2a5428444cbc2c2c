package cli_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/trustroute/internal/testutil"
	"github.com/MeKo-Tech/trustroute/test/integration/cli/support"
)

// InitializeScenario gives every scenario its own context and working
// directory.
func InitializeScenario(sc *godog.ScenarioContext) {
	tc, err := support.NewTestContext()
	if err != nil {
		panic(fmt.Sprintf("create test context: %v", err))
	}

	tc.RegisterCommandSteps(sc)
	tc.RegisterServerSteps(sc)

	sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		if err := tc.Cleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: cleanup: %v\n", err)
		}
		return ctx, nil
	})
}

func TestFeatures(t *testing.T) {
	format := os.Getenv("GODOG_FORMAT")
	if format == "" {
		format = "pretty"
	}

	suite := godog.TestSuite{
		Name:                "trustroute",
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   format,
			Tags:     os.Getenv("GODOG_TAGS"),
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("feature suite failed")
	}
}

// TestMain puts a trustroute binary on PATH. TRUSTROUTE_BIN selects a
// prebuilt one; otherwise the current tree is built into a temp dir.
func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	bin := os.Getenv("TRUSTROUTE_BIN")
	if bin == "" {
		root, err := testutil.GetProjectRoot()
		if err != nil {
			fmt.Fprintf(os.Stderr, "locate project root: %v\n", err)
			return 1
		}
		dir, err := os.MkdirTemp("", "trustroute-bin-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "create bin dir: %v\n", err)
			return 1
		}
		defer func() { _ = os.RemoveAll(dir) }()

		bin = filepath.Join(dir, "trustroute")
		build := exec.CommandContext(context.Background(), "go", "build", "-o", bin, "./cmd/trustroute")
		build.Dir = root
		if out, err := build.CombinedOutput(); err != nil {
			fmt.Fprintf(os.Stderr, "build trustroute: %v\n%s\n", err, out)
			return 1
		}
	}

	_ = os.Setenv("PATH", filepath.Dir(bin)+string(os.PathListSeparator)+os.Getenv("PATH"))
	return m.Run()
}
