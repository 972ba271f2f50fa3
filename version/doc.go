// Package version exposes build information set through -ldflags.
package version
