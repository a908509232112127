// Package version holds the build version, overridable with
// -ldflags "-X bairrosgo/pkg/version.Version=v1.2.3".
package version

// Version is the application version.
var Version = "v0.4.0"
