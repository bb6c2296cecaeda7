package vcs

import "testing"

func TestSSHHost(t *testing.T) {
	cases := map[string]string{
		"ssh://git@example.com/org/repo.git":      "example.com:22",
		"ssh://git@example.com:2222/org/repo.git": "example.com:2222",
		"git@example.com:org/repo.git":             "example.com:22",
	}
	for url, want := range cases {
		got, err := sshHost(url)
		if err != nil {
			t.Fatalf("sshHost(%q): %v", url, err)
		}
		if got != want {
			t.Errorf("sshHost(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestSSHHostRejectsUnrecognizedRemote(t *testing.T) {
	if _, err := sshHost("https://example.com/org/repo.git"); err == nil {
		t.Fatal("expected an error for a non-ssh remote")
	}
}

func TestDirName(t *testing.T) {
	got := dirName("git@example.com:org/repo.git")
	if got == "" || got == "git@example.com:org/repo.git" {
		t.Fatalf("expected dirName to sanitize the url, got %q", got)
	}
}
