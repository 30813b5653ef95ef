package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func stamp(t *testing.T, v, commit, date string) {
	t.Helper()
	originalVersion, originalCommit, originalDate := Version, Commit, Date
	t.Cleanup(func() {
		Version, Commit, Date = originalVersion, originalCommit, originalDate
	})
	Version, Commit, Date = v, commit, date
}

func TestStringIncludesBuildMetadata(t *testing.T) {
	stamp(t, "1.2.3", "abc123", "2026-02-18")

	got := String()
	require.Contains(t, got, "livecap 1.2.3")
	require.Contains(t, got, "commit=abc123")
	require.Contains(t, got, "date=2026-02-18")
	require.Contains(t, got, "go=")
}

func TestCurrentReportsRuntime(t *testing.T) {
	stamp(t, "0.4.0", "def456", "2026-09-01")

	require.Equal(t, Info{Version: "0.4.0", Commit: "def456", Date: "2026-09-01", Go: runtime.Version()}, Current())
}
