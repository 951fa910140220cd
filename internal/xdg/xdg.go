// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package xdg locates FitTrack files under the XDG Base Directory layout.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const appName = "fittrack"

// ConfigFileName is the file DefaultConfigFile looks for.
const ConfigFileName = "config.yaml"

// ConfigDir returns $XDG_CONFIG_HOME/fittrack, falling back to
// ~/.config/fittrack.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile returns the config file in ConfigDir if one exists, or
// "" when there is none.
func DefaultConfigFile() string {
	path := filepath.Join(ConfigDir(), ConfigFileName)
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			// Unreadable but present: let the loader report it.
			return path
		}
		return ""
	}
	if info.IsDir() {
		return ""
	}
	return path
}
