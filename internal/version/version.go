// Package version holds the build-time version variables for the cspm binary.
// Local builds keep the zero values; release builds set them via -ldflags.
package version

import "fmt"

// These variables are overridden by ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns the formatted version string printed by cspm version.
func Info() string {
	return fmt.Sprintf(
		"cspm version %s\ncommit: %s\nbuilt: %s\n",
		Version,
		Commit,
		Date,
	)
}
