package meta

import (
	"fmt"
	"runtime"
)

// Lang is reported to the server in CONNECT.
const Lang = "go"

// These will be filled in using the linker -X flag, e.g.
//
//	go build -ldflags "-X github.com/luma/courier/internal/meta.Version=1.2.0"
var (
	// Version as an arbitrary string, "dev" when not set
	Version string

	// Build is the Git sha from when we are building
	Build string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string
)

// Info describes the build of a courier binary.
type Info struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	BuildTime string `json:"build_time"`
	Platform  string `json:"platform"`
	GoVersion string `json:"go_version"`
}

// ClientVersion is the version sent in CONNECT.
func ClientVersion() string {
	if Version == "" {
		return "dev"
	}

	return Version
}

func GetInfo() Info {
	return Info{
		Version:   ClientVersion(),
		Build:     Build,
		BuildTime: BuildTimeUTC,
		Platform:  fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH),
		GoVersion: runtime.Version(),
	}
}
