package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/meridian-games/buildvault"
)

var (
	genName        string
	genDescription string
	genParent      string
	genHidden      bool
	genOutput      string
	genMaxItems    int64
)

var genManifestCmd = &cobra.Command{
	Use:   "gen-manifest <build-dir> <asset-url>",
	Short: "Fingerprint a build directory into a manifest",
	Long: `Scans a build directory for asset bundles, fingerprints each one inside
and out, and writes the resulting manifest as JSON. The asset URL is where
consumers of the manifest will fetch the bundles from.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, assetURL := args[0], args[1]

		limits, err := limitsFromFlags(genMaxItems, 0)
		if err != nil {
			return err
		}

		opts := []buildvault.BuildOption{
			buildvault.BuildWithLogger(logger()),
			buildvault.BuildWithLimits(limits),
		}
		if genName != "" {
			opts = append(opts, buildvault.BuildWithName(genName))
		}
		if genDescription != "" {
			opts = append(opts, buildvault.BuildWithDescription(genDescription))
		}
		if genParent != "" {
			parent, err := uuid.Parse(genParent)
			if err != nil {
				return fmt.Errorf("invalid parent id: %w", err)
			}
			opts = append(opts, buildvault.BuildWithParent(parent))
		}
		if genHidden {
			opts = append(opts, buildvault.BuildWithHidden())
		}

		m, err := buildvault.BuildManifest(cmd.Context(), dir, assetURL, opts...)
		if err != nil {
			return err
		}
		if err := m.Export(genOutput); err != nil {
			return err
		}
		fmt.Printf("wrote %s (build %s, %d bundles)\n", genOutput, m.ID, len(m.Bundles))
		return nil
	},
}

var (
	buildStopOnFirstFail bool
	buildUncompressed    bool
	buildAssetURL        string
	buildMaxItems        int64
	buildMaxFetches      int64
)

var validateBuildCmd = &cobra.Command{
	Use:   "validate-build <manifest> <build-dir>",
	Short: "Check a local build against a manifest",
	Long: `Fingerprints every file of the build and reports the ones that differ
from the manifest. Nothing is downloaded or modified. The manifest may be a
local path or an http(s) URL.

Exits non-zero when any file is corrupted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, opts, err := loadRun(cmd, args[0])
		if err != nil {
			return err
		}

		var corrupted []buildvault.Corruption
		if buildUncompressed {
			corrupted, err = m.ValidateUncompressed(cmd.Context(), args[1], opts...)
		} else {
			corrupted, err = m.ValidateCompressed(cmd.Context(), args[1], opts...)
		}
		if err != nil {
			return err
		}
		printCorrupted(corrupted)
		if len(corrupted) > 0 {
			return fmt.Errorf("%d corrupted items", len(corrupted))
		}
		fmt.Println("build is valid")
		return nil
	},
}

var repairBuildCmd = &cobra.Command{
	Use:   "repair-build <manifest> <build-dir>",
	Short: "Re-download corrupted files in a build",
	Long: `Validates the build and re-fetches every mismatched file from the
manifest's asset URL, up to a bounded number of attempts per file.
Repaired files are listed alongside any that could not be fixed.

Exits non-zero when any file remains corrupted after repair.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, opts, err := loadRun(cmd, args[0])
		if err != nil {
			return err
		}

		corrupted, err := m.Repair(cmd.Context(), args[1], opts...)
		if err != nil {
			return err
		}
		printCorrupted(corrupted)
		return failUnrepaired(corrupted)
	},
}

var downloadBuildCmd = &cobra.Command{
	Use:   "download-build <manifest> <build-dir>",
	Short: "Fetch a whole build from scratch",
	Long: `Empties the target directory and downloads every file the manifest
names from its asset URL, verifying each as it lands.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, opts, err := loadRun(cmd, args[0])
		if err != nil {
			return err
		}

		corrupted, err := m.Download(cmd.Context(), args[1], opts...)
		if err != nil {
			return err
		}
		printCorrupted(corrupted)
		return failUnrepaired(corrupted)
	},
}

func init() {
	genManifestCmd.Flags().StringVarP(&genName, "name", "n", "", "Human-readable build name")
	genManifestCmd.Flags().StringVarP(&genDescription, "description", "d", "", "Build description")
	genManifestCmd.Flags().StringVar(&genParent, "parent", "", "ID of the build this one derives from")
	genManifestCmd.Flags().BoolVar(&genHidden, "hidden", false, "Hide the build from listings")
	genManifestCmd.Flags().StringVarP(&genOutput, "output", "o", "manifest.json", "Output manifest path")
	genManifestCmd.Flags().Int64Var(&genMaxItems, "max-items", 0, "Max bundles fingerprinted at once (0 = unbounded)")

	for _, c := range []*cobra.Command{validateBuildCmd, repairBuildCmd, downloadBuildCmd} {
		c.Flags().StringVar(&buildAssetURL, "asset-url", "", "Override the manifest's asset URL")
		c.Flags().BoolVar(&buildStopOnFirstFail, "stop-on-first-fail", false, "Stop at the first corrupted item")
		c.Flags().Int64Var(&buildMaxItems, "max-items", 0, "Max items processed at once (0 = unbounded)")
		c.Flags().Int64Var(&buildMaxFetches, "max-fetches", 0, "Max concurrent downloads (0 = unbounded)")
	}
	validateBuildCmd.Flags().BoolVar(&buildUncompressed, "uncompressed", false,
		"Validate extracted bundle contents instead of the bundle files")
}

// loadRun resolves the manifest argument and the shared validate/repair flags
// into a manifest and its run options.
func loadRun(cmd *cobra.Command, manifestArg string) (*buildvault.Manifest, []buildvault.ValidateOption, error) {
	m, err := buildvault.LoadManifest(cmd.Context(), manifestArg)
	if err != nil {
		return nil, nil, err
	}
	if buildAssetURL != "" {
		m.SetAssetBaseURL(buildAssetURL)
	}

	limits, err := limitsFromFlags(buildMaxItems, buildMaxFetches)
	if err != nil {
		return nil, nil, err
	}

	opts := []buildvault.ValidateOption{
		buildvault.ValidateWithLogger(logger()),
		buildvault.ValidateWithLimits(limits),
	}
	if buildStopOnFirstFail {
		opts = append(opts, buildvault.ValidateWithStopOnFirstFail())
	}
	return m, opts, nil
}

// failUnrepaired converts the run outcome into the process exit status:
// repaired items are informational, unrepaired ones are failure.
func failUnrepaired(corrupted []buildvault.Corruption) error {
	var unrepaired int
	for _, c := range corrupted {
		if !c.Repaired {
			unrepaired++
		}
	}
	if unrepaired > 0 {
		return fmt.Errorf("%d items could not be repaired", unrepaired)
	}
	return nil
}
