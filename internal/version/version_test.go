package version

import "testing"

func setBuild(t *testing.T, v, c, b string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, Commit, BuildTime = v, c, b
}

func TestCurrent(t *testing.T) {
	setBuild(t, "1.2.3", "abc1234", "2026-01-15T10:00:00Z")

	got := Current()
	want := Build{Version: "1.2.3", Commit: "abc1234", BuildTime: "2026-01-15T10:00:00Z"}
	if got != want {
		t.Errorf("Current() = %+v, want %+v", got, want)
	}

	if s := got.String(); s != "1.2.3 (abc1234) built 2026-01-15T10:00:00Z" {
		t.Errorf("String() = %q, want %q", s, "1.2.3 (abc1234) built 2026-01-15T10:00:00Z")
	}
}

func TestClientName(t *testing.T) {
	setBuild(t, "dev", "unknown", "unknown")

	if got := ClientName("sync-a"); got != "syncd/dev/sync-a" {
		t.Errorf("ClientName() = %q, want %q", got, "syncd/dev/sync-a")
	}
}

func TestDefaultsNotEmpty(t *testing.T) {
	if Version == "" || Commit == "" || BuildTime == "" {
		t.Errorf("build variables must default to placeholders, got %+v", Current())
	}
}
