package shell

import "strings"

// PackageManagerDirs are the well-known Homebrew bin/sbin directories, in
// the order they should win on PATH.
var PackageManagerDirs = []string{
	"/opt/homebrew/bin",
	"/opt/homebrew/sbin",
	"/usr/local/bin",
	"/usr/local/sbin",
}

// PathPrefix is prepended to generated shell text. Commands run in a shell
// that skips profile files, so Homebrew's shellenv never runs.
func PathPrefix() string {
	return `export PATH="` + strings.Join(PackageManagerDirs, ":") + `:$PATH"; `
}

// WithPath prefixes command with the PATH export.
func WithPath(command string) string {
	return PathPrefix() + command
}

// SudoWrap turns command into an elevated invocation that reads the password
// from stdin. sudo resets PATH, so the inner shell gets the prefix again.
func SudoWrap(command string) string {
	return "sudo -S -p '' /bin/sh -c " + Quote(WithPath(command))
}
