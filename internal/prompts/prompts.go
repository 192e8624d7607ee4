// Package prompts holds the system prompts sent to the model. Deployments can
// override either prompt with a file on disk.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed system.txt
var defaultSystem string

//go:embed sqlcheck.txt
var defaultSQLCheck string

type Set struct {
	System   string
	SQLCheck string
}

func Default() Set {
	return Set{System: defaultSystem, SQLCheck: defaultSQLCheck}
}

// Load returns the embedded prompts with each non-empty path read in place of
// its default.
func Load(systemPath, sqlCheckPath string) (Set, error) {
	set := Default()
	var err error
	if set.System, err = readOverride(systemPath, set.System); err != nil {
		return Set{}, err
	}
	if set.SQLCheck, err = readOverride(sqlCheckPath, set.SQLCheck); err != nil {
		return Set{}, err
	}
	return set, nil
}

func readOverride(path, fallback string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt %q: %w", path, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", fmt.Errorf("prompt %q is empty", path)
	}
	return string(raw), nil
}
