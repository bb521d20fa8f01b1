package version

import "testing"

func TestString(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	defer func() { Version, Commit = oldVersion, oldCommit }()

	Version, Commit = "1.4.0", "abc123"
	if got := String(); got != "1.4.0 (commit abc123)" {
		t.Errorf("String() = %q", got)
	}
}
