// Package demo embeds a small shell workload so "vtgrid demo" can
// drive a live session without any setup.
package demo

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed files/counter.sh
var embeddedFiles embed.FS

// ScriptName is the file name the demo script is extracted as.
const ScriptName = "counter.sh"

// Script returns the embedded demo script.
func Script() ([]byte, error) {
	data, err := fs.ReadFile(embeddedFiles, "files/counter.sh")
	if err != nil {
		return nil, fmt.Errorf("read embedded counter.sh: %w", err)
	}
	return data, nil
}

// Extract writes the demo script into dir and returns its path. The
// script is written executable so it can be handed to a PTY workload
// directly.
func Extract(dir string) (string, error) {
	data, err := Script()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ScriptName)
	if err := os.WriteFile(path, data, 0o700); err != nil {
		return "", fmt.Errorf("write demo script: %w", err)
	}
	return path, nil
}
