package version

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// WriteBuildVersion writes a ModuleVersion to the build-metadata file
// format spec §6 defines (UTF-8 JSON, sorted keys, round-trips exactly).
// The write is atomic (write-temp + rename) per spec §5's atomicity
// requirement for the .garden cache directory.
func WriteBuildVersion(path string, mv *ModuleVersion) error {
	// Marshal through a map so the top-level keys come out sorted rather
	// than in struct-field order; encoding/json sorts nested map keys itself.
	raw, err := json.Marshal(mv)
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindInternal, "failed to marshal build version", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return gardenerr.Wrap(gardenerr.KindInternal, "failed to marshal build version", err)
	}
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindInternal, "failed to marshal build version", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to create build-metadata directory", err).WithEntity(dir)
	}

	tmp, err := os.CreateTemp(dir, ".garden-build-version-*")
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to create temp build-version file", err).WithEntity(dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to write build-version file", err).WithEntity(tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to close temp build-version file", err).WithEntity(tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to rename build-version file into place", err).WithEntity(path)
	}
	return nil
}

// ReadBuildVersion reads a build-metadata file written by WriteBuildVersion.
// A stale or corrupt file is treated as absent, per the decision recorded
// in DESIGN.md for spec §9 open question (b): ok is false and the parse
// error comes back as rawErr for the caller to log at debug level. A
// missing file gives ok=false and a nil rawErr.
func ReadBuildVersion(path string) (mv *ModuleVersion, ok bool, rawErr error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, nil
	}
	var parsed ModuleVersion
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, false, err
	}
	return &parsed, true, nil
}
