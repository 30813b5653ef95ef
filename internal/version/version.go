// Package version carries build metadata stamped via -ldflags.
package version

import "runtime"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the build metadata as reported over HTTP.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Go      string `json:"go"`
}

// Current returns the stamped build metadata.
func Current() Info {
	return Info{Version: Version, Commit: Commit, Date: Date, Go: runtime.Version()}
}

func String() string {
	info := Current()
	return "livecap " + info.Version + " (commit=" + info.Commit + ", date=" + info.Date + ", go=" + info.Go + ")"
}
