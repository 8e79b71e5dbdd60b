package plan

import (
	"os"

	"shellmate/internal/shell"
)

// Probe reports what the host already has installed.
type Probe interface {
	// BrewPath returns the Homebrew binary, if one is installed.
	BrewPath() (string, bool)
	// PackageManagerDirs returns the package-manager bin/sbin directories
	// that exist on this host.
	PackageManagerDirs() []string
}

var brewCandidates = []string{
	"/opt/homebrew/bin/brew",
	"/usr/local/bin/brew",
	"/home/linuxbrew/.linuxbrew/bin/brew",
}

// FSProbe checks well-known install locations on the local filesystem.
type FSProbe struct{}

func (FSProbe) BrewPath() (string, bool) {
	for _, p := range brewCandidates {
		if isExecutable(p) {
			return p, true
		}
	}
	return "", false
}

func (FSProbe) PackageManagerDirs() []string {
	var dirs []string
	for _, d := range shell.PackageManagerDirs {
		if fi, err := os.Stat(d); err == nil && fi.IsDir() {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir() && fi.Mode()&0o111 != 0
}

func defaultPathDirs() []string {
	return append([]string(nil), shell.PackageManagerDirs...)
}
