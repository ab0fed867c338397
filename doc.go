// Package buildvault distributes and verifies large, versioned game builds
// composed of binary asset containers ("bundles").
//
// A build is described by a [Manifest]: a portable JSON document mapping
// every bundle file to its [Fingerprint] (content hash plus size) and to the
// fingerprints of the files inside it. Manifests are produced once at build
// time with [BuildManifest] and consumed by the validation engine:
//
//	m, err := buildvault.LoadManifest(ctx, "https://assets.example.com/build.json")
//	if err != nil {
//	    return err
//	}
//	corrupted, err := m.ValidateCompressed(ctx, "./build",
//	    buildvault.ValidateWithRepair(),
//	)
//
// Validation fingerprints every bundle concurrently and, when repair is
// enabled, re-fetches mismatched files from the manifest's asset URL with a
// bounded retry loop. [Limits] optionally caps concurrent work and
// concurrent fetches across every call that shares it.
//
// The [bundle] subpackage decodes and encodes the asset-container format
// itself, including its per-section LZMA compression.
package buildvault
