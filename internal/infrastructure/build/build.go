// Package build carries version information stamped at link time.
package build

import (
	"fmt"
	"runtime"
)

// Overridden via -ldflags at release build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version  string
	Commit   string
	Date     string
	Platform string
}

// Get returns the build info for this binary.
func Get() Info {
	return Info{
		Version:  Version,
		Commit:   Commit,
		Date:     Date,
		Platform: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("flowhost %s (%s, built %s, %s)", i.Version, i.Commit, i.Date, i.Platform)
}
