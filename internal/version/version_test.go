package version

import "testing"

func TestUserAgent(t *testing.T) {
	origVersion, origCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })

	Version, Commit = "dev", "unknown"
	if got := UserAgent(); got != "repairlink-notifyd/dev" {
		t.Errorf("UserAgent() = %q, want repairlink-notifyd/dev", got)
	}

	Version, Commit = "1.2.0", "abc1234"
	if got := UserAgent(); got != "repairlink-notifyd/1.2.0 (abc1234)" {
		t.Errorf("UserAgent() = %q, want repairlink-notifyd/1.2.0 (abc1234)", got)
	}
}

func TestString(t *testing.T) {
	origVersion, origCommit, origBuild := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = origVersion, origCommit, origBuild })

	Version, Commit, BuildTime = "1.2.0", "abc1234", "2026-10-19T00:00:00Z"
	want := "1.2.0 (abc1234) built 2026-10-19T00:00:00Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
