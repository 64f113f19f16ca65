// Package main implements the pushmirror command-line tool for pushing
// bridged Git mirrors to remote destinations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/pushmirror/pushmirror/internal/push"
)

const (
	defaultConfigPath = "/etc/pushmirror/pushmirror.toml"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pushmirror",
	Short: "Push bridged Git mirrors to remote destinations",
	Long: `pushmirror keeps remote copies of locally bridged Git repositories up to
date. It fingerprints the newest local state per destination and pushes only
when the state changed since the last successful push.

Find more information at: https://github.com/pushmirror/pushmirror`,
}

var pushCmd = &cobra.Command{
	Use:   "push <repo-id> <destination>",
	Short: "Push one mirror to one destination if its state changed",
	Long: `Push a single mirror to a single destination.

The mirror working directory is fetched from the upstream alias first, so the
bridging product synchronizes its view of the repository. The push is skipped
when the destination's fingerprint record already covers the newest state.

Exit status is 0 both when a push happened and when it was skipped as already
current; any failing step exits non-zero and prints the captured git output.

Examples:
  pushmirror push myproject git@github.com:example/myproject.git
  pushmirror push myproject ssh://git.internal/myproject --dry-run`,
	Args: cobra.ExactArgs(2),
	Run:  runPush,
}

var syncCmd = &cobra.Command{
	Use:   "sync [repo-id...]",
	Short: "Push all configured destinations for one or more repositories",
	Long: `Synchronize every configured (repository, destination) pair.

Usage:
  # Push all repositories in your configuration file
  pushmirror sync

  # Push only specific repositories
  pushmirror sync myproject otherproject

  # Detect changes without pushing
  pushmirror sync --dry-run

If no repository IDs are specified, all repositories in the configuration file
will be pushed. Every pair is attempted even if some fail; the exit status is
non-zero when at least one pair failed.`,
	Run: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status [repo-id...]",
	Short: "Show which destinations would receive a push",
	Long: `Show, per configured destination, the newest local state descriptor, the
recorded descriptor of the last successful push, and whether a push would
occur. Nothing is pushed and no record is written.

Examples:
  pushmirror status
  pushmirror status myproject
  pushmirror status myproject --fetch`,
	Run: runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List mirror directories under the view root",
	Long:  `List mirror working directories present under the view root, marking which of them are configured.`,
	Args:  cobra.NoArgs,
	Run:   runList,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("pushmirror %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")

	pushCmd.Flags().Bool("dry-run", false, "report the outcome without pushing or writing the record")
	syncCmd.Flags().Bool("dry-run", false, "report outcomes without pushing or writing records")
	statusCmd.Flags().Bool("fetch", false, "fetch the upstream alias before reading the local state")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}

	return err.Error()
}

// loadConfig reads, decodes and applies the configuration file.
func loadConfig() (*push.Config, error) {
	config := push.NewConfig()
	meta, err := toml.DecodeFile(configPath, config)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("configuration file not found", "path", configPath)
			slog.Info("Please create a configuration file at the default location or specify one with the --config flag.")
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to decode config file "+configPath)
	}

	// Undecoded keys usually mean a misspelled section
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Newf("configuration contains unknown keys: %v", undecoded)
	}

	if err := config.Log.Apply(); err != nil {
		return nil, errors.Wrap(err, "log config")
	}

	// Override log level if specified on command line
	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			return nil, errors.Wrap(err, "command-line log level")
		}
	}

	return config, nil
}

// loadConfigQuiet applies the quiet flag on top of loadConfig.
func loadConfigQuiet(cmd *cobra.Command) (*push.Config, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Log.Level = "error"
		if err := config.Log.Apply(); err != nil {
			return nil, errors.Wrap(err, "quiet log level")
		}
	}
	return config, nil
}

func runPush(cmd *cobra.Command, args []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	config, err := loadConfigQuiet(cmd)
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}
	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	repoID, destination := args[0], args[1]

	pusher, err := push.NewPusher(repoID, config, dryRun)
	if err != nil {
		slog.Error("push failed", "repo", repoID, "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	outcome, err := pusher.Push(context.Background(), destination)
	if err != nil {
		// formatError surfaces the captured git output via error details.
		slog.Error("push failed", "repo", repoID, "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(1)
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		return
	}
	if dryRun && outcome == push.OutcomePushed {
		fmt.Printf("%s -> %s: push needed (dry run)\n", repoID, destination)
		return
	}
	fmt.Printf("%s -> %s: %s\n", repoID, destination, outcome)
}

func runSync(cmd *cobra.Command, args []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	quiet, _ := cmd.Flags().GetBool("quiet")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	config, err := loadConfigQuiet(cmd)
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}
	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	results, err := push.Run(context.Background(), config, args, push.SyncOptions{
		DryRun: dryRun,
		Quiet:  quiet,
	})
	if err != nil {
		for _, result := range results {
			if result.Err != nil {
				slog.Error("pair failed", "repo", result.RepoID, "destination", result.Destination,
					"error", formatError(result.Err, verboseErrors))
			}
		}
		slog.Error("sync failed", "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(1)
	}

	if !quiet {
		for _, result := range results {
			fmt.Println(push.FormatPair(result))
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	fetch, _ := cmd.Flags().GetBool("fetch")

	config, err := loadConfigQuiet(cmd)
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}
	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	repos := args
	if len(repos) == 0 {
		for repoID := range config.Repos {
			repos = append(repos, repoID)
		}
	}
	sort.Strings(repos)

	exitCode := 0
	for _, repoID := range repos {
		repoConfig, ok := config.Repos[repoID]
		if !ok {
			slog.Error("repo not found in configuration", "repo", repoID)
			exitCode = 1
			continue
		}

		pusher, err := push.NewPusher(repoID, config, true)
		if err != nil {
			slog.Error("status failed", "repo", repoID, "error", formatError(err, verboseErrors))
			exitCode = 1
			continue
		}

		fmt.Printf("Repository: %s\n", repoID)
		for _, destination := range repoConfig.Destinations {
			status, err := pusher.Status(context.Background(), destination, fetch)
			if err != nil {
				slog.Error("status failed", "repo", repoID, "destination", destination,
					"error", formatError(err, verboseErrors))
				exitCode = 1
				continue
			}

			fmt.Printf("  destination: %s\n", status.Destination)
			fmt.Printf("    current:  %s\n", status.Current)
			if status.HasRecord {
				fmt.Printf("    recorded: %s\n", status.Recorded)
			} else {
				fmt.Printf("    recorded: (never pushed)\n")
			}
			if status.WouldPush {
				fmt.Printf("    action:   push needed\n")
			} else {
				fmt.Printf("    action:   up to date\n")
			}
		}
		fmt.Println()
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func runList(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfigQuiet(cmd)
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}
	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	mirrors, err := push.ListMirrors(config)
	if err != nil {
		slog.Error("failed to list mirrors", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	if len(mirrors) == 0 {
		fmt.Println("No mirrors found under", config.ViewRoot)
		return
	}
	for _, mirror := range mirrors {
		if mirror.Configured {
			fmt.Printf("  %s\n", mirror.RepoID)
		} else {
			fmt.Printf("  %s (not configured)\n", mirror.RepoID)
		}
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", formatError(err, verboseErrors))
		os.Exit(1)
	}

	var validationErrors []error

	if err := config.Check(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "global config"))
	}

	for repoID, repoConfig := range config.Repos {
		if !push.IsValidID(repoID) {
			validationErrors = append(validationErrors, errors.New("invalid repo ID: "+repoID))
		}
		if err := repoConfig.Check(); err != nil {
			validationErrors = append(validationErrors, errors.Wrap(err, "repo \""+repoID+"\""))
		}
	}

	if len(validationErrors) > 0 {
		slog.Error("the toml configuration file is not valid")
		for _, err := range validationErrors {
			slog.Error(err.Error())
		}
		os.Exit(1)
	}

	slog.Info("the toml configuration file passes validation checks")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
