package app

import "testing"

func TestFormatStartupMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		appName string
		version string
		want    string
	}{
		{name: "release version", appName: "statusbot", version: "v1.4.0", want: "🚀 Starting statusbot v1.4.0..."},
		{name: "dev build", appName: "statusbot", version: "dev", want: "🚀 Starting statusbot (development build)..."},
		{name: "empty version", appName: "statusbot", version: "", want: "🚀 Starting statusbot (development build)..."},
		{name: "trims spaces", appName: " statusbot ", version: " v1.4.0 ", want: "🚀 Starting statusbot v1.4.0..."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := formatStartupMessage(tc.appName, tc.version); got != tc.want {
				t.Fatalf("formatStartupMessage() mismatch\nwant: %q\ngot:  %q", tc.want, got)
			}
		})
	}
}
