/*
Package pushmirror is a tool for pushing locally bridged Git mirrors to remote destinations.

pushmirror keeps remote copies of Git Fusion bridged repositories up to date while avoiding
redundant pushes, with features including:
  - Change detection via per-destination fingerprint records
  - Forced mirrored pushes (all refs and tags)
  - Advisory file locking per (repository, destination) pair
  - Concurrent batch synchronization of configured repositories
  - Full capture of git diagnostics, surfaced only on failure

The main packages are:

	github.com/pushmirror/pushmirror/internal/push  - Core push logic, records and locking
	github.com/pushmirror/pushmirror/cmd/pushmirror - Command-line interface
*/
package pushmirror
