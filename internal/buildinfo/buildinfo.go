// Package buildinfo carries version metadata stamped at build time via
// -ldflags "-X toolgate/internal/buildinfo.Version=...".
package buildinfo

var (
	Version = "dev"
	Build   = ""
)
