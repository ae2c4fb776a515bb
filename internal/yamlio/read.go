package yamlio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// ErrNotExist is returned by Read when the file is missing. Callers decide
// whether a missing record is an error or a defensive default.
var ErrNotExist = errors.New("yaml file does not exist")

// Read unmarshals path into out, ErrNotExist when the file is absent.
func Read(path string, out any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yamlv3.Unmarshal(content, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ReadOrQuarantine behaves like Read, but an unparseable file is moved into
// quarantineDir and reported as ErrNotExist so the caller falls back to its
// defensive default instead of wedging on a torn write.
func ReadOrQuarantine(path, quarantineDir string, out any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yamlv3.Unmarshal(content, out); err != nil {
		if qerr := Quarantine(quarantineDir, path); qerr != nil {
			return fmt.Errorf("parse %s: %w (quarantine also failed: %v)", path, err, qerr)
		}
		return fmt.Errorf("%w: %s (corrupt copy quarantined)", ErrNotExist, path)
	}
	return nil
}

// Quarantine moves a corrupt file aside for operator inspection.
func Quarantine(quarantineDir, filePath string) error {
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405")
	quarantineName := fmt.Sprintf("%s.%s.corrupt", baseName, timestamp)

	if err := os.Rename(filePath, filepath.Join(quarantineDir, quarantineName)); err != nil {
		return fmt.Errorf("move to quarantine: %w", err)
	}
	return nil
}
