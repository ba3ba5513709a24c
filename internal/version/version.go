package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden at build time:
//
//	go build -ldflags "-X github.com/soyeahso/envieii/internal/version.Version=0.3.0
//	  -X github.com/soyeahso/envieii/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info returns the one-line version banner.
func Info() string {
	commit, date := Commit, Date
	if commit == "" {
		commit = vcsSetting("vcs.revision")
	}
	if date == "" {
		date = vcsSetting("vcs.time")
	}
	return fmt.Sprintf("envieii %s (%s, %s) %s/%s %s",
		Version, orUnknown(short(commit)), orUnknown(date), runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// UserAgent is sent in the transport handshake.
func UserAgent() string {
	return "envieii/" + Version
}

func vcsSetting(key string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
