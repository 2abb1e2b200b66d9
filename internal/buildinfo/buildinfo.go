// Package buildinfo holds the build metadata of the lazyscc binary. The
// linker injects values into cmd/lazyscc; main forwards them with Set.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Info is the build metadata.
type Info struct {
	Version string
	Commit  string
	Date    string
	BuiltBy string
}

var (
	mu      sync.RWMutex
	current = Info{Version: "dev", Commit: "none", Date: "unknown", BuiltBy: "unknown"}
)

// Set stores the build metadata received from linker-injected variables.
func Set(version, commit, date, builtBy string) {
	mu.Lock()
	defer mu.Unlock()
	current = Info{Version: version, Commit: commit, Date: date, BuiltBy: builtBy}
}

// Get returns the stored metadata.
func Get() Info {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Version returns the build version string.
func Version() string { return Get().Version }

// String renders the metadata on one line for --version.
func (i Info) String() string {
	short := i.Commit
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("%s (commit %s, built %s by %s)", i.Version, short, i.Date, i.BuiltBy)
}

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Enrich fills a missing commit from the VCS revision and a missing builder
// from the Go version.
func Enrich() {
	mu.Lock()
	defer mu.Unlock()
	if current.Commit != "none" && current.BuiltBy != "unknown" {
		return
	}

	info, ok := readBuildInfo()
	if !ok {
		return
	}

	if current.Commit == "none" {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				current.Commit = setting.Value
			}
		}
	}

	if current.BuiltBy == "unknown" {
		current.BuiltBy = info.GoVersion
	}
}
