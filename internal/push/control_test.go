package push

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

// scriptedRunner fakes git for batch runs; pushes to failPushTo fail.
type scriptedRunner struct {
	descriptor string
	failPushTo string
}

func (s *scriptedRunner) run(_ context.Context, _ string, args ...string) ([]byte, error) {
	switch args[0] {
	case "fetch":
		return nil, nil
	case "log":
		return []byte(s.descriptor + "\n"), nil
	case "push":
		if s.failPushTo != "" && args[2] == s.failPushTo {
			return []byte("fatal: access denied"), errors.New("exit status 128")
		}
		return nil, nil
	}
	return nil, errors.New("unexpected git subcommand: " + args[0])
}

func withRunner(t *testing.T, r runner) {
	t.Helper()
	saved := defaultRunner
	defaultRunner = r
	t.Cleanup(func() { defaultRunner = saved })
}

func batchConfig(t *testing.T) *Config {
	t.Helper()
	config := testConfig(t)
	config.Repos = map[string]*RepoConfig{
		"alpha": {Destinations: []string{"dest-a1", "dest-a2"}},
		"beta":  {Destinations: []string{"dest-b1"}},
	}
	return config
}

func TestRunAll(t *testing.T) {
	withRunner(t, &scriptedRunner{descriptor: "abc1234 first commit"})
	config := batchConfig(t)

	results, err := Run(context.Background(), config, nil, SyncOptions{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for _, result := range results {
		if result.Err != nil {
			t.Errorf("%s -> %s failed: %v", result.RepoID, result.Destination, result.Err)
		}
		if result.Outcome != OutcomePushed {
			t.Errorf("%s -> %s outcome = %v, want pushed", result.RepoID, result.Destination, result.Outcome)
		}
	}

	// Repositories come back in sorted order.
	if results[0].RepoID != "alpha" || results[2].RepoID != "beta" {
		t.Errorf("results out of order: %v", results)
	}

	// A second run finds every destination current.
	results, err = Run(context.Background(), config, nil, SyncOptions{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, result := range results {
		if result.Outcome != OutcomeSkipped {
			t.Errorf("%s -> %s outcome = %v, want skipped", result.RepoID, result.Destination, result.Outcome)
		}
	}
}

func TestRunSubset(t *testing.T) {
	withRunner(t, &scriptedRunner{descriptor: "abc1234 first commit"})
	config := batchConfig(t)

	results, err := Run(context.Background(), config, []string{"beta"}, SyncOptions{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].RepoID != "beta" {
		t.Errorf("results = %v, want only beta", results)
	}
}

func TestRunUnknownRepo(t *testing.T) {
	withRunner(t, &scriptedRunner{descriptor: "abc1234 first commit"})
	config := batchConfig(t)

	if _, err := Run(context.Background(), config, []string{"gamma"}, SyncOptions{Quiet: true}); err == nil {
		t.Error("Run accepted an unconfigured repo")
	}
}

func TestRunPartialFailure(t *testing.T) {
	withRunner(t, &scriptedRunner{descriptor: "abc1234 first commit", failPushTo: "dest-a2"})
	config := batchConfig(t)

	results, err := Run(context.Background(), config, nil, SyncOptions{Quiet: true})
	if err == nil {
		t.Fatal("Run succeeded although one pair failed")
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want all pairs attempted", len(results))
	}

	records, err := NewRecordStore(config.RecordRoot)
	if err != nil {
		t.Fatal(err)
	}
	for _, result := range results {
		_, found, err := records.Read(result.RepoID, result.Destination)
		if err != nil {
			t.Fatal(err)
		}
		if result.Destination == "dest-a2" {
			if result.Err == nil {
				t.Error("failing pair reported no error")
			}
			if found {
				t.Error("record written for the failed pair")
			}
		} else {
			if result.Err != nil {
				t.Errorf("%s -> %s failed: %v", result.RepoID, result.Destination, result.Err)
			}
			if !found {
				t.Errorf("no record for successful pair %s -> %s", result.RepoID, result.Destination)
			}
		}
	}
}

func TestRunDryRun(t *testing.T) {
	withRunner(t, &scriptedRunner{descriptor: "abc1234 first commit"})
	config := batchConfig(t)

	results, err := Run(context.Background(), config, nil, SyncOptions{Quiet: true, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}

	records, err := NewRecordStore(config.RecordRoot)
	if err != nil {
		t.Fatal(err)
	}
	for _, result := range results {
		if result.Outcome != OutcomePushed {
			t.Errorf("%s -> %s outcome = %v, want pushed (pending)", result.RepoID, result.Destination, result.Outcome)
		}
		if _, found, err := records.Read(result.RepoID, result.Destination); err != nil {
			t.Fatal(err)
		} else if found {
			t.Errorf("dry run wrote a record for %s -> %s", result.RepoID, result.Destination)
		}
	}
}

func TestListMirrors(t *testing.T) {
	t.Parallel()

	config := testConfig(t)
	config.Repos = map[string]*RepoConfig{
		"alpha": {Destinations: []string{"dest-a"}},
	}

	for _, repoID := range []string{"alpha", "zulu"} {
		if err := os.MkdirAll(filepath.Join(config.ViewRoot, repoID, "git"), 0750); err != nil {
			t.Fatal(err)
		}
	}
	// A view container without a git working copy is ignored.
	if err := os.MkdirAll(filepath.Join(config.ViewRoot, "empty"), 0750); err != nil {
		t.Fatal(err)
	}
	// Stray files are ignored.
	if err := os.WriteFile(filepath.Join(config.ViewRoot, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	mirrors, err := ListMirrors(config)
	if err != nil {
		t.Fatal(err)
	}
	if len(mirrors) != 2 {
		t.Fatalf("len(mirrors) = %d, want 2 (%v)", len(mirrors), mirrors)
	}
	if mirrors[0].RepoID != "alpha" || !mirrors[0].Configured {
		t.Errorf("mirrors[0] = %+v, want configured alpha", mirrors[0])
	}
	if mirrors[1].RepoID != "zulu" || mirrors[1].Configured {
		t.Errorf("mirrors[1] = %+v, want unconfigured zulu", mirrors[1])
	}
}

func TestFormatPair(t *testing.T) {
	t.Parallel()

	ok := PairResult{RepoID: "alpha", Destination: "dest", Outcome: OutcomePushed}
	if got := FormatPair(ok); got != "alpha -> dest: pushed" {
		t.Errorf("FormatPair = %q", got)
	}

	failed := PairResult{RepoID: "alpha", Destination: "dest", Err: errors.New("boom")}
	if got := FormatPair(failed); got != "alpha -> dest: failed" {
		t.Errorf("FormatPair = %q", got)
	}
}
