package version

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// ListTrackedFiles enumerates the files git considers tracked (or
// not-ignored-and-not-untracked-ignored) under root, relative to root.
// When root is not inside a git work tree, it falls back to a plain
// recursive walk — the version hasher must work for modules outside
// version control too.
func ListTrackedFiles(root string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return walkAll(root)
	}

	var files []string
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			files = append(files, filepath.ToSlash(line))
		}
	}
	sort.Strings(files)
	return files, nil
}

func walkAll(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".garden" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to walk module source tree", err).
			WithEntity(root)
	}
	sort.Strings(files)
	return files, nil
}

// SelectFiles applies include/exclude/ignore filtering to a candidate file
// list, per spec §4.3 step 1. A nil include means "no include filter"; a
// non-nil empty include means "no sources", matching the module-config
// invariant in spec §3 ("include empty list means no sources").
func SelectFiles(candidates []string, include, exclude []string, ignoreGlobs []glob.Glob) ([]string, error) {
	if include != nil && len(include) == 0 {
		return []string{}, nil
	}

	base := candidates
	if include != nil {
		includeGlobs, err := compileGlobs(include)
		if err != nil {
			return nil, err
		}
		base = filterMatching(candidates, includeGlobs, true)
	}

	if len(exclude) > 0 {
		excludeGlobs, err := compileGlobs(exclude)
		if err != nil {
			return nil, err
		}
		base = filterMatching(base, excludeGlobs, false)
	}

	if len(ignoreGlobs) > 0 {
		base = filterMatching(base, ignoreGlobs, false)
	}

	sort.Strings(base)
	return base, nil
}

// CompileIgnoreFile reads a dotignore-style file (one glob per line,
// blank lines and "#" comments skipped) and compiles its patterns.
func CompileIgnoreFile(path string) ([]glob.Glob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to read ignore file", err).WithEntity(path)
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return compileGlobs(patterns)
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "invalid glob pattern", err).WithEntity(p)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// filterMatching keeps (want=true) or drops (want=false) paths matching
// any of globs.
func filterMatching(paths []string, globs []glob.Glob, want bool) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		matched := false
		for _, g := range globs {
			if g.Match(p) {
				matched = true
				break
			}
		}
		if matched == want {
			out = append(out, p)
		}
	}
	return out
}
