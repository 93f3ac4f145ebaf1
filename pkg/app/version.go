package app

import "strings"

// Version is the build version, set with -ldflags "-X .../pkg/app.Version=v1.2.3".
var Version = "dev"

func formatStartupMessage(appName, version string) string {
	name := strings.TrimSpace(appName)
	v := strings.TrimSpace(version)
	if v == "" || v == "dev" {
		return "🚀 Starting " + name + " (development build)..."
	}
	return "🚀 Starting " + name + " " + v + "..."
}
