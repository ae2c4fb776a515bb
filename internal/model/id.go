package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

var taskIDRegex = regexp.MustCompile(`^task_[0-9a-f]{10}$`)

// TaskID derives a stable task identifier from the owning repository and
// head commit. Re-running discovery for the same candidate must produce
// the same id, otherwise resume would duplicate tasks.
func TaskID(repoName, commitHash string) string {
	sum := sha256.Sum256([]byte(repoName + "_" + commitHash))
	return fmt.Sprintf("task_%s", hex.EncodeToString(sum[:])[:10])
}

func ValidTaskID(id string) bool {
	return taskIDRegex.MatchString(id)
}
