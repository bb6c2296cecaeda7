package version

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gobwas/glob"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "sub/util.go", "package sub\n")

	v1, err := Compute(root, []string{"sub/util.go", "main.go"}, map[string]string{"b": "v1"})
	if err != nil {
		t.Fatal(err)
	}
	v2, err := Compute(root, []string{"main.go", "sub/util.go"}, map[string]string{"b": "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if v1.VersionString != v2.VersionString {
		t.Fatalf("expected deterministic version, got %s vs %s", v1.VersionString, v2.VersionString)
	}
}

func TestComputeSensitiveToContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	v1, err := Compute(root, []string{"main.go"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, root, "main.go", "package main // changed\n")
	v2, err := Compute(root, []string{"main.go"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v1.VersionString == v2.VersionString {
		t.Fatal("expected version to change when file content changes")
	}
}

func TestComputeSensitiveToDependencyVersion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	v1, _ := Compute(root, []string{"main.go"}, map[string]string{"a": "v1"})
	v2, _ := Compute(root, []string{"main.go"}, map[string]string{"a": "v2"})
	if v1.VersionString == v2.VersionString {
		t.Fatal("expected version to change when dependency version changes")
	}
}

func TestSelectFilesEmptyIncludeMeansNoSources(t *testing.T) {
	out, err := SelectFiles([]string{"a.go", "b.go"}, []string{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no sources, got %v", out)
	}
}

func TestSelectFilesNilIncludeMeansAll(t *testing.T) {
	out, err := SelectFiles([]string{"a.go", "b.go"}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected all files, got %v", out)
	}
}

func TestSelectFilesIncludeExclude(t *testing.T) {
	out, err := SelectFiles([]string{"src/a.go", "src/b_test.go", "README.md"}, []string{"src/**"}, []string{"**/*_test.go"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != "src/a.go" {
		t.Fatalf("unexpected selection: %v", out)
	}
}

func TestSelectFilesIgnoreGlobs(t *testing.T) {
	g, err := glob.Compile("*.log", '/')
	if err != nil {
		t.Fatal(err)
	}
	out, err := SelectFiles([]string{"a.go", "debug.log"}, nil, nil, []glob.Glob{g})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != "a.go" {
		t.Fatalf("unexpected selection: %v", out)
	}
}

func TestBuildVersionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garden-build-version")
	mv := &ModuleVersion{
		VersionString:      "abc123def456",
		DependencyVersions: map[string]string{"a": "v1"},
		Files:              []string{"main.go"},
	}
	if err := WriteBuildVersion(path, mv); err != nil {
		t.Fatal(err)
	}
	got, ok, err := ReadBuildVersion(path)
	if err != nil || !ok {
		t.Fatalf("expected successful read, ok=%v err=%v", ok, err)
	}
	if got.VersionString != mv.VersionString || got.Files[0] != mv.Files[0] {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, mv)
	}
}

func TestReadBuildVersionStaleIsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garden-build-version")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := ReadBuildVersion(path)
	if ok {
		t.Fatal("expected stale file to report absent")
	}
	if err == nil {
		t.Fatal("expected the parse error to be returned for debug logging")
	}
}
