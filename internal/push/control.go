package push

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// SyncOptions controls a batch run.
type SyncOptions struct {
	DryRun bool
	Quiet  bool
}

// PairResult is the outcome of one (repository, destination) pair in a
// batch run.
type PairResult struct {
	RepoID      string
	Destination string
	Outcome     Outcome
	Err         error
}

// Run pushes every configured destination of the given repositories.
//
// repos is a list of repository IDs defined in the configuration file
// (or keys in config.Repos). If repos is an empty list, all configured
// repositories are pushed. Repositories run concurrently, bounded by
// config.MaxPushes; a repository's destinations run sequentially.
//
// Every pair is attempted even when earlier pairs fail. The returned
// results cover all pairs in deterministic order; the returned error is
// non-nil when at least one pair failed.
func Run(ctx context.Context, config *Config, repos []string, opts SyncOptions) ([]PairResult, error) {
	if len(repos) == 0 {
		for repoID := range config.Repos {
			repos = append(repos, repoID)
		}
		sort.Strings(repos)
	}

	pairCount := 0
	for _, repoID := range repos {
		repoConfig, ok := config.Repos[repoID]
		if !ok {
			return nil, errors.New("no such repo: " + repoID)
		}
		pairCount += len(repoConfig.Destinations)
	}

	var bar *pb.ProgressBar
	if !opts.Quiet && pairCount > 1 {
		bar = pb.StartNew(pairCount)
		defer bar.Finish()
	}

	if opts.DryRun {
		slog.Info("dry-run mode: detecting changes without pushing")
	} else {
		slog.Info("sync starts", "repos", len(repos), "pairs", pairCount)
	}

	var mu sync.Mutex
	resultsByRepo := make(map[string][]PairResult, len(repos))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(config.MaxPushes)

	for _, repoID := range repos {
		repoID := repoID
		repoConfig := config.Repos[repoID]
		group.Go(func() error {
			results := syncRepo(ctx, config, repoID, repoConfig, opts, bar)
			mu.Lock()
			resultsByRepo[repoID] = results
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var results []PairResult
	failed := 0
	for _, repoID := range repos {
		for _, result := range resultsByRepo[repoID] {
			if result.Err != nil {
				failed++
			}
			results = append(results, result)
		}
	}

	if failed > 0 {
		return results, errors.Newf("%d of %d pushes failed", failed, pairCount)
	}
	slog.Info("sync ends")
	return results, nil
}

// syncRepo pushes all destinations of one repository. Pair failures are
// recorded, not propagated, so the remaining destinations still run.
func syncRepo(ctx context.Context, config *Config, repoID string, repoConfig *RepoConfig, opts SyncOptions, bar *pb.ProgressBar) []PairResult {
	results := make([]PairResult, 0, len(repoConfig.Destinations))

	pusher, err := NewPusher(repoID, config, opts.DryRun)
	if err != nil {
		for _, destination := range repoConfig.Destinations {
			results = append(results, PairResult{RepoID: repoID, Destination: destination, Err: err})
			if bar != nil {
				bar.Increment()
			}
		}
		return results
	}

	for _, destination := range repoConfig.Destinations {
		outcome, err := pusher.Push(ctx, destination)
		if err != nil {
			slog.Error("push failed", "repo", repoID, "error", err)
		}
		results = append(results, PairResult{
			RepoID:      repoID,
			Destination: destination,
			Outcome:     outcome,
			Err:         err,
		})
		if bar != nil {
			bar.Increment()
		}
	}
	return results
}

// MirrorEntry describes one mirror working directory under the view root.
type MirrorEntry struct {
	RepoID     string
	Configured bool
}

// ListMirrors returns the mirror directories present under the view
// root, sorted by repository id, noting which of them appear in the
// configuration.
func ListMirrors(config *Config) ([]MirrorEntry, error) {
	dirEntries, err := os.ReadDir(config.ViewRoot)
	if err != nil {
		return nil, errors.Wrap(err, "ListMirrors")
	}

	var mirrors []MirrorEntry
	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() {
			continue
		}
		repoID := dirEntry.Name()
		if !IsValidID(repoID) {
			continue
		}
		// A view directory without a git working copy is not a mirror.
		info, err := os.Stat(filepath.Join(config.ViewRoot, repoID, "git"))
		if err != nil || !info.IsDir() {
			continue
		}
		_, configured := config.Repos[repoID]
		mirrors = append(mirrors, MirrorEntry{RepoID: repoID, Configured: configured})
	}

	sort.Slice(mirrors, func(i, j int) bool {
		return mirrors[i].RepoID < mirrors[j].RepoID
	})
	return mirrors, nil
}

// FormatPair renders a pair result for terminal output.
func FormatPair(result PairResult) string {
	if result.Err != nil {
		return fmt.Sprintf("%s -> %s: failed", result.RepoID, result.Destination)
	}
	return fmt.Sprintf("%s -> %s: %s", result.RepoID, result.Destination, result.Outcome)
}
