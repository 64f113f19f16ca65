package push

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
)

// Outcome describes how a push invocation concluded.
type Outcome int

const (
	// OutcomeSkipped means the destination already held the current
	// state, so no push was performed.
	OutcomeSkipped Outcome = iota
	// OutcomePushed means a forced mirrored push was performed and the
	// fingerprint record was updated.
	OutcomePushed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomePushed:
		return "pushed"
	default:
		return "unknown"
	}
}

// PairStatus reports the relation between a mirror and one destination
// without modifying anything.
type PairStatus struct {
	Destination string
	Current     string // newest local state descriptor
	Recorded    string // descriptor recorded at last successful push
	HasRecord   bool
	WouldPush   bool
}

// Pusher pushes one repository's mirror to destinations, skipping
// destinations whose fingerprint record already covers the newest
// local state.
type Pusher struct {
	repoID   string
	dir      string
	upstream string
	records  *RecordStore
	runner   runner
	dryRun   bool
}

// NewPusher constructs a Pusher for the given repository id.
//
// The mirror working directory is not checked for existence here; a
// missing directory surfaces as a failure from the fetch step, exactly
// as it would from git itself.
func NewPusher(repoID string, config *Config, dryRun bool) (*Pusher, error) {
	if !IsValidID(repoID) {
		return nil, errors.New("invalid id: " + repoID)
	}

	records, err := NewRecordStore(config.RecordRoot)
	if err != nil {
		return nil, errors.Wrap(err, repoID)
	}

	return &Pusher{
		repoID:   repoID,
		dir:      config.RepoDir(repoID),
		upstream: config.Upstream,
		records:  records,
		runner:   defaultRunner,
		dryRun:   dryRun,
	}, nil
}

// Push ensures destination mirrors the newest local state.
//
// The sequence is: take the pair's advisory lock, dry-run fetch the
// upstream alias so the bridging product synchronizes, read the newest
// state descriptor, and compare it against the fingerprint record for
// destination. A matching record means the destination is current and
// nothing is pushed. Otherwise all refs and tags are force-pushed and
// the record is rewritten. The record is never written unless the push
// succeeded, so a failed attempt is retried by the next invocation.
func (p *Pusher) Push(ctx context.Context, destination string) (Outcome, error) {
	lock, err := p.acquireLock(destination)
	if err != nil {
		return OutcomeSkipped, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to unlock pair lock", "repo", p.repoID, "error", err)
		}
		if err := lock.Close(); err != nil {
			slog.Warn("failed to close pair lock", "repo", p.repoID, "error", err)
		}
	}()

	if err := fetchUpstream(ctx, p.runner, p.dir, p.repoID, p.upstream); err != nil {
		return OutcomeSkipped, err
	}

	descriptor, err := headDescriptor(ctx, p.runner, p.dir, p.repoID)
	if err != nil {
		return OutcomeSkipped, err
	}

	recorded, found, err := p.records.Read(p.repoID, destination)
	if err != nil {
		return OutcomeSkipped, errors.Wrap(err, p.repoID)
	}
	if found && Matches(recorded, descriptor) {
		slog.Info("destination already current", "repo", p.repoID, "state", descriptor)
		return OutcomeSkipped, nil
	}

	if p.dryRun {
		slog.Info("dry-run: push needed", "repo", p.repoID, "state", descriptor)
		return OutcomePushed, nil
	}

	if err := pushMirror(ctx, p.runner, p.dir, p.repoID, destination); err != nil {
		return OutcomeSkipped, err
	}

	if err := p.records.Write(p.repoID, destination, descriptor); err != nil {
		return OutcomeSkipped, errors.Wrap(err, p.repoID)
	}

	slog.Info("push succeeded", "repo", p.repoID, "state", descriptor)
	return OutcomePushed, nil
}

// Status reports, without pushing, whether destination would receive a
// push. When fetch is true the upstream alias is fetched first so the
// descriptor reflects the bridging product's newest state.
func (p *Pusher) Status(ctx context.Context, destination string, fetch bool) (*PairStatus, error) {
	if fetch {
		if err := fetchUpstream(ctx, p.runner, p.dir, p.repoID, p.upstream); err != nil {
			return nil, err
		}
	}

	descriptor, err := headDescriptor(ctx, p.runner, p.dir, p.repoID)
	if err != nil {
		return nil, err
	}

	recorded, found, err := p.records.Read(p.repoID, destination)
	if err != nil {
		return nil, errors.Wrap(err, p.repoID)
	}

	return &PairStatus{
		Destination: destination,
		Current:     descriptor,
		Recorded:    recorded,
		HasRecord:   found,
		WouldPush:   !found || !Matches(recorded, descriptor),
	}, nil
}

// acquireLock takes the advisory flock for a (repository, destination)
// pair. Concurrent invocations for the same pair fail fast instead of
// pushing redundantly.
func (p *Pusher) acquireLock(destination string) (Flock, error) {
	f, err := p.records.openLock(p.repoID, destination)
	if err != nil {
		return Flock{}, errors.Wrap(err, p.repoID)
	}

	lock := Flock{f}
	if err := lock.Lock(); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Warn("failed to close pair lock", "repo", p.repoID, "error", cerr)
		}
		return Flock{}, errors.Wrap(err, p.repoID+": another push is in progress")
	}
	return lock, nil
}
