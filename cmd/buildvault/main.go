// Command buildvault generates, verifies, and repairs build manifests, and
// operates on individual asset bundles.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridian-games/buildvault"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "buildvault",
	Short: "Verify and distribute versioned game builds",
	Long: `buildvault describes a build's exact byte content in a manifest,
verifies local copies against it, and repairs only what differs.

Build commands:
  gen-manifest    - Fingerprint a build directory into a manifest
  validate-build  - Check a local build against a manifest
  repair-build    - Re-download corrupted files in a build
  download-build  - Fetch a whole build from scratch

Bundle commands:
  read            - Print a bundle's header and file listing
  extract         - Unpack a bundle's files to a directory
  pack            - Assemble a bundle from a directory`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(genManifestCmd)
	rootCmd.AddCommand(validateBuildCmd)
	rootCmd.AddCommand(repairBuildCmd)
	rootCmd.AddCommand(downloadBuildCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(packCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// logger builds the process logger from the global flags.
func logger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// limitsFromFlags assembles an injected permit pool from the per-command
// ceiling flags. Zero means unbounded.
func limitsFromFlags(maxItems, maxFetches int64) (*buildvault.Limits, error) {
	limits := buildvault.NewLimits()
	if maxItems > 0 {
		if err := limits.SetMaxItems(maxItems); err != nil {
			return nil, err
		}
	}
	if maxFetches > 0 {
		if err := limits.SetMaxFetches(maxFetches); err != nil {
			return nil, err
		}
	}
	return limits, nil
}

// printCorrupted reports the run's problem items on stdout.
func printCorrupted(corrupted []buildvault.Corruption) {
	for _, c := range corrupted {
		status := "corrupted"
		if c.Repaired {
			status = "repaired"
		}
		fmt.Printf("%s: %s (%s)\n", status, c.Name, c.Reason.String())
	}
}
