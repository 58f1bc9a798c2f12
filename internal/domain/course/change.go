package course

// ChangeRecord is produced for every tracked course observed during one poll cycle.
// It is never persisted.
type ChangeRecord struct {
	Course  Course
	Old     *Status // nil when the course was never seen before
	New     Status
	Changed bool
}

// Diff compares the last persisted observation with a fresh upstream record.
// Only the seat and waitlist counters count as a change.
func Diff(old *Course, rec Offering) ChangeRecord {
	cr := ChangeRecord{New: rec.Status()}
	if old == nil {
		cr.Changed = true
		return cr
	}
	prev := old.Status()
	cr.Old = &prev
	cr.Changed = prev != cr.New
	return cr
}
