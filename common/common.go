// Package common holds identity constants shared by the relaysim servers and
// binaries.
package common

// PackageName labels metrics namespaces and log records.
const PackageName = "relaysim"

// Version is overridden at build time via -ldflags.
var Version = "dev"
