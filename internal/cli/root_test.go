package cli

import (
	"os"
	"testing"

	"github.com/fathomline/regatta/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "regatta" {
		t.Fatalf("expected use 'regatta', got %q", cmd.Use)
	}

	for _, name := range []string{"run", "export", "merge", "schedule"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil {
			t.Fatalf("command %s should exist: %v", name, err)
		}
		if sub.Name() != name {
			t.Fatalf("expected command %s, got %s", name, sub.Name())
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	if verbose == nil {
		t.Fatal("expected persistent --verbose flag")
	}
	if verbose.Shorthand != "v" {
		t.Fatalf("expected shorthand 'v', got %q", verbose.Shorthand)
	}
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	if err != nil {
		t.Fatal(err)
	}

	if runCmd.Flags().Lookup("input") == nil {
		t.Fatal("expected --input flag")
	}
	if runCmd.Flags().Lookup("export") == nil {
		t.Fatal("expected --export flag")
	}
}

func TestMergeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	mergeCmd, _, err := cmd.Find([]string{"merge"})
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"from", "into", "reason"} {
		if mergeCmd.Flags().Lookup(name) == nil {
			t.Fatalf("expected --%s flag", name)
		}
	}
}

func TestScheduleCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	schedCmd, _, err := cmd.Find([]string{"schedule"})
	if err != nil {
		t.Fatal(err)
	}

	if schedCmd.Flags().Lookup("input-dir") == nil {
		t.Fatal("expected --input-dir flag")
	}
	if schedCmd.Flags().Lookup("cron") == nil {
		t.Fatal("expected --cron flag")
	}
}
