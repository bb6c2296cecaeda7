// Package version computes deterministic content-addressed versions for
// modules: it walks declared source files, hashes their contents, folds
// in dependency versions, and yields a stable short version string.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// ModuleVersion is the versioning result for a module (or a test/task,
// which extend the owning module's version with their own dependency
// names per spec §4.3).
type ModuleVersion struct {
	VersionString      string            `json:"versionString"`
	DependencyVersions map[string]string `json:"dependencyVersions"`
	Files              []string          `json:"files"`
}

// fileHash is an intermediate (relative path, content hash) pair.
type fileHash struct {
	Path string
	Hash string
}

// HashFile hashes a single file's bytes and returns the hex digest.
func HashFile(absPath string) (string, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", gardenerr.Wrap(gardenerr.KindRuntime, "failed to read source file", err).
			WithEntity(absPath)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Compute derives a ModuleVersion from a module root, the already-selected
// set of in-scope files (relative to root, as produced by SelectFiles),
// and the already-resolved versions of its build dependencies.
//
// Version determinism (spec §8): for an unchanged file set and unchanged
// dependency versions, Compute is byte-identical across runs and hosts —
// it never consults the wall clock, process IDs, or file metadata beyond
// content bytes.
func Compute(root string, relFiles []string, depVersions map[string]string) (*ModuleVersion, error) {
	hashes := make([]fileHash, 0, len(relFiles))
	for _, rel := range relFiles {
		abs := filepath.Join(root, rel)
		h, err := HashFile(abs)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, fileHash{Path: filepath.ToSlash(rel), Hash: h})
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Path < hashes[j].Path })

	depNames := make([]string, 0, len(depVersions))
	for name := range depVersions {
		depNames = append(depNames, name)
	}
	sort.Strings(depNames)

	digest := sha256.New()
	for _, fh := range hashes {
		fmt.Fprintf(digest, "file:%s:%s\n", fh.Path, fh.Hash)
	}
	for _, name := range depNames {
		fmt.Fprintf(digest, "dep:%s:%s\n", name, depVersions[name])
	}

	sum := digest.Sum(nil)
	versionString := strings.ToLower(hex.EncodeToString(sum))[:12]

	files := make([]string, len(hashes))
	for i, fh := range hashes {
		files[i] = fh.Path
	}

	dv := depVersions
	if dv == nil {
		dv = map[string]string{}
	}

	return &ModuleVersion{
		VersionString:      versionString,
		DependencyVersions: dv,
		Files:              files,
	}, nil
}

// ExtendWithNames folds additional declared dependency names (without
// their own content) into a derived version string, used for test/task
// versions which extend the owning module's version per spec §4.3.
func ExtendWithNames(moduleVersion string, names []string) string {
	sorted := append([]string{}, names...)
	sort.Strings(sorted)
	digest := sha256.New()
	fmt.Fprintf(digest, "module:%s\n", moduleVersion)
	for _, n := range sorted {
		fmt.Fprintf(digest, "name:%s\n", n)
	}
	sum := digest.Sum(nil)
	return strings.ToLower(hex.EncodeToString(sum))[:12]
}
