package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir is ~/.zep/logs, or a directory under os.TempDir when there is no home.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".zep", "logs")
	}
	return filepath.Join(home, ".zep", "logs")
}

func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "zepindex.log")
}
