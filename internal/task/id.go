package task

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"math/rand"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
)

// shortHashID builds a "gt-xxxxxx" id from (timestamp_ns, random, project_id)
// per spec.md §4.3 — a short base32 digest, not a full UUID, since tasks are
// frequently typed by hand in commit messages and CLI refs.
func shortHashID(projectID core.ProjectID, salt int) core.TaskID {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%d:%s:%d", time.Now().UnixNano(), rand.Int63(), projectID, salt)
	sum := h.Sum(nil)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum)
	return core.TaskID("gt-" + toLower(enc[:6]))
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
