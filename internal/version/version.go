// Package version holds build information set at link time:
//
//	go build -ldflags "-X github.com/aristath/pitmetrics/internal/version.Version=1.2.0"
package version

// Version is the release version of the binary
var Version = "dev"
