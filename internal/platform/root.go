package platform

import (
	"errors"
	"os"
	"path/filepath"
)

// ConfigFile is the optional project file the CLI reads defaults from.
const ConfigFile = "docsync.yaml"

// ErrRootNotFound is returned when no snapshot root exists above a path.
var ErrRootNotFound = errors.New("root not found")

// FindRoot walks upwards from startDir looking for a snapshot root: a
// directory holding the system dir (".docsync") or a docsync.yaml file.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, ".docsync") || hasFile(dir, ConfigFile) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", ErrRootNotFound
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
