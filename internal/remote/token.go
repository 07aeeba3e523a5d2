package remote

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultTokenFile is the filename searched for when no explicit token path
// is given.
const DefaultTokenFile = ".agtoken"

// LoadToken reads the API token. A name containing a path separator is
// treated as an explicit location and must exist. A bare filename is searched
// for in the working directory and then in each parent, stopping after the
// user's home directory so the walk never wanders into system directories.
func LoadToken(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		return readToken(name)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	home, _ := os.UserHomeDir()

	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return readToken(candidate)
		}
		if dir == home {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("token file %q not found in working directory or any parent", name)
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}
