// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package version provides the queue processor version.
package version

const VERSION = "1.0.0"

// BUILD is appended to VERSION if set: "VERSION+BUILD". The "+" is included automatically.
var BUILD string = ""

// Version returns the semver-compatible (https://semver.org/) version string.
func Version() string {
	v := VERSION
	if BUILD != "" {
		v += "+" + BUILD
	}
	return v
}
