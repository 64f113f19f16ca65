package push

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

type staticRunner struct {
	out []byte
	err error
}

func (s staticRunner) run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	return s.out, s.err
}

func TestHeadDescriptor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Only the first line is used, surrounding whitespace is trimmed.
	r := staticRunner{out: []byte("abc1234 first commit\nwarning: something\n")}
	descriptor, err := headDescriptor(ctx, r, "/tmp", "demo")
	if err != nil {
		t.Fatal(err)
	}
	if descriptor != "abc1234 first commit" {
		t.Errorf("descriptor = %q, want the first line only", descriptor)
	}

	// An empty history is an error.
	if _, err := headDescriptor(ctx, staticRunner{out: []byte("\n")}, "/tmp", "demo"); err == nil {
		t.Error("headDescriptor accepted an empty log")
	}
}

func TestGitErrorDetails(t *testing.T) {
	t.Parallel()

	err := gitError(errors.New("exit status 128"), "demo", []byte("fatal: repository not found\n"))
	if !strings.Contains(err.Error(), "demo") {
		t.Errorf("error = %q, want the repo id", err)
	}
	if details := errors.FlattenDetails(err); !strings.Contains(details, "fatal: repository not found") {
		t.Errorf("details = %q, want the captured output", details)
	}

	// No output attaches no detail.
	err = gitError(errors.New("exit status 1"), "demo", nil)
	if err == nil {
		t.Fatal("gitError returned nil")
	}
}

func TestFetchFailureSurfacesOutput(t *testing.T) {
	t.Parallel()

	r := staticRunner{out: []byte("ssh: connect to host refused"), err: errors.New("exit status 255")}
	err := fetchUpstream(context.Background(), r, "/tmp", "demo", "origin")
	if err == nil {
		t.Fatal("fetchUpstream succeeded although the fetch failed")
	}
	if details := errors.FlattenDetails(err); !strings.Contains(details, "connect to host refused") {
		t.Errorf("details = %q, want the captured output", details)
	}
}
