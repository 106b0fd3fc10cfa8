// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session validates session and checkpoint identifiers before they
// are used as filesystem path segments, and resolves the on-disk layout
// under a base directory:
//
//	<baseDir>/sessions/<sessionID>/events.jsonl
//	<baseDir>/sessions/<sessionID>/checkpoints/<checkpointID>.json
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

// idPattern matches the identifier charset from spec §6: first character
// alphanumeric, subsequent characters alphanumeric, dot, underscore, or hyphen.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// DefaultBaseDirName is the directory under the user's home directory used
// when no explicit base directory is configured.
const DefaultBaseDirName = ".ssenrah"

// ValidateID rejects empty identifiers, ".", "..", and anything outside the
// allowed charset. It is the single gate every session/checkpoint ID must
// pass before becoming part of a filesystem path.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier must not be empty")
	}
	if id == "." || id == ".." {
		return fmt.Errorf("identifier %q is not allowed", id)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("identifier %q contains characters outside [A-Za-z0-9._-]", id)
	}
	return nil
}

// NewID generates a fresh, valid session or checkpoint identifier.
func NewID() string {
	return uuid.New().String()
}

// DefaultBaseDir returns "<home>/.ssenrah", falling back to "./.ssenrah" if
// the home directory cannot be determined.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultBaseDirName
	}
	return filepath.Join(home, DefaultBaseDirName)
}

// Dir returns "<baseDir>/sessions/<sessionID>" after validating sessionID.
func Dir(baseDir, sessionID string) (string, error) {
	if err := ValidateID(sessionID); err != nil {
		return "", fmt.Errorf("invalid session id: %w", err)
	}
	return filepath.Join(baseDir, "sessions", sessionID), nil
}

// EventsPath returns "<baseDir>/sessions/<sessionID>/events.jsonl".
func EventsPath(baseDir, sessionID string) (string, error) {
	dir, err := Dir(baseDir, sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "events.jsonl"), nil
}

// CheckpointsDir returns "<baseDir>/sessions/<sessionID>/checkpoints".
func CheckpointsDir(baseDir, sessionID string) (string, error) {
	dir, err := Dir(baseDir, sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "checkpoints"), nil
}

// CheckpointPath returns the path for a specific checkpoint file, validating
// both sessionID and checkpointID.
func CheckpointPath(baseDir, sessionID, checkpointID string) (string, error) {
	dir, err := CheckpointsDir(baseDir, sessionID)
	if err != nil {
		return "", err
	}
	if err := ValidateID(checkpointID); err != nil {
		return "", fmt.Errorf("invalid checkpoint id: %w", err)
	}
	return filepath.Join(dir, checkpointID+".json"), nil
}

// EnsureDir creates dir (and parents) if it doesn't already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
