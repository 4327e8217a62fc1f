// Package version holds the build-time version string, set via
// -ldflags "-X vtstate/version.Version=..." the way phenix/version does.
package version

// Version is overridden at build time; "dev" is the source-tree default.
var Version = "dev"
