// Package version reports the build version of the roehn binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/roehn/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/roehn/internal/version.Commit=abc1234"
//
// Otherwise they are filled from the embedded VCS stamp, or "dev".
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

// Info is the version report printed by "roehn version --json"
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func init() {
	fillFromBuildInfo()

	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fillFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	if rev := settings["vcs.revision"]; Commit == "" && rev != "" {
		Commit = rev
		if len(Commit) > 7 {
			Commit = Commit[:7]
		}
		if settings["vcs.modified"] == "true" {
			Commit += "-dirty"
		}
	}
	if Date == "" {
		if t, err := time.Parse(time.RFC3339, settings["vcs.time"]); err == nil {
			Date = t.UTC().Format("2006-01-02")
		}
	}
}

// Get returns the version report
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Full returns the version with commit and build date
func Full() string {
	s := fmt.Sprintf("%s (commit: %s", Version, Commit)
	if Date != "" {
		s += ", built " + Date
	}
	return s + ")"
}

// Agent identifies the bridge to MQTT and mDNS peers, e.g. "roehn/v0.3.0"
func Agent() string {
	return "roehn/" + strings.TrimPrefix(Version, "roehn/")
}
