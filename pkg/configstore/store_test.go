package configstore

import (
	"path/filepath"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config-store.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("linkedSources.moduleA", "/local/path/a"); err != nil {
		t.Fatal(err)
	}
	var got string
	ok, err := s.Get("linkedSources.moduleA", &got)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got != "/local/path/a" {
		t.Fatalf("unexpected value: %q", got)
	}
}

func TestSetOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config-store.json")
	s, _ := Open(path)
	_ = s.Set("k", "v1")
	_ = s.Set("k", "v2")
	var got string
	_, _ = s.Get("k", &got)
	if got != "v2" {
		t.Fatalf("expected v2, got %q", got)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config-store.json")
	s1, _ := Open(path)
	_ = s1.Set("secrets.token", "shh")

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	var got string
	ok, err := s2.Get("secrets.token", &got)
	if err != nil || !ok || got != "shh" {
		t.Fatalf("expected persisted value, ok=%v err=%v got=%q", ok, err, got)
	}
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config-store.json")
	s, _ := Open(path)
	_ = s.Set("k", "v")
	if err := s.Delete("k"); err != nil {
		t.Fatal(err)
	}
	var got string
	ok, _ := s.Get("k", &got)
	if ok {
		t.Fatal("expected key to be gone after delete")
	}
}
