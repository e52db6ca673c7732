package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".fbdash", "profiles", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestDBPath(t *testing.T) {
	got := DBPath("test")
	if !strings.HasSuffix(got, filepath.Join("profiles", "test", "fbdash.db")) {
		t.Errorf("DBPath(test) = %q, want suffix profiles/test/fbdash.db", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("profiles", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix profiles/test/LOCK", got)
	}
}

func TestProfileConfigPath(t *testing.T) {
	got := ProfileConfigPath("work")
	if !strings.HasSuffix(got, filepath.Join("profiles", "work", "profile.toml")) {
		t.Errorf("ProfileConfigPath(work) = %q, want suffix profiles/work/profile.toml", got)
	}
}
