package push

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// runner executes a git subcommand in a working directory and returns
// its combined stdout and stderr. Implementations must capture all
// diagnostic output so that failures can be surfaced in full.
type runner interface {
	run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// execRunner invokes the git binary from $PATH. The bridging product is
// reachable only through git's command-line surface, so all repository
// operations go through here.
type execRunner struct{}

// defaultRunner is swapped out by tests.
var defaultRunner runner = execRunner{}

func (execRunner) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, errors.Wrap(err, "git "+strings.Join(args, " "))
	}
	return out, nil
}

// gitError wraps err with the full captured output of the failing git
// invocation as an error detail, so the CLI can print it verbatim.
func gitError(err error, repoID string, output []byte) error {
	err = errors.Wrap(err, repoID)
	if out := bytes.TrimSpace(output); len(out) > 0 {
		err = errors.WithDetail(err, string(out))
	}
	return err
}

// fetchUpstream performs a dry-run fetch from the upstream alias. The
// fetch transfers nothing and updates no local refs; its purpose is the
// server-side synchronization the bridging product performs when
// contacted.
func fetchUpstream(ctx context.Context, r runner, dir, repoID, upstream string) error {
	out, err := r.run(ctx, dir, "fetch", "--dry-run", upstream)
	if err != nil {
		return gitError(err, repoID, out)
	}
	slog.Debug("fetched upstream", "repo", repoID, "upstream", upstream)
	return nil
}

// headDescriptor returns the one-line summary of the newest revision in
// the mirror working directory.
func headDescriptor(ctx context.Context, r runner, dir, repoID string) (string, error) {
	out, err := r.run(ctx, dir, "log", "--oneline", "-1")
	if err != nil {
		return "", gitError(err, repoID, out)
	}
	descriptor := strings.TrimSpace(string(out))
	if descriptor == "" {
		return "", errors.New(repoID + ": repository has no history")
	}
	// Only the first line matters if git ever prints more.
	if i := strings.IndexByte(descriptor, '\n'); i >= 0 {
		descriptor = descriptor[:i]
	}
	return descriptor, nil
}

// pushMirror performs a forced, mirrored push of all refs and tags,
// overwriting any destination-only history.
func pushMirror(ctx context.Context, r runner, dir, repoID, destination string) error {
	out, err := r.run(ctx, dir, "push", "--mirror", destination)
	if err != nil {
		return gitError(err, repoID, out)
	}
	slog.Debug("pushed mirror", "repo", repoID, "destination", destination)
	return nil
}
