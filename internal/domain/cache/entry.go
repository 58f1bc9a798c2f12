// internal/domain/cache/entry.go
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Key identifies one registrar snapshot.
type Key struct {
	Term       string
	Department string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Term, k.Department)
}

// Entry is the last known snapshot of a (term, department) pair.
// Corresponds to the 'cache_entries' table.
type Entry struct {
	Key              Key
	UpdatedAt        time.Time
	IsRefreshing     bool
	RefreshStartedAt sql.NullTime    // set whenever IsRefreshing is raised
	Payload          json.RawMessage // list of course offerings, empty until the first refresh lands
}

// Age is the wall-clock time since the last successful refresh.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.UpdatedAt)
}
