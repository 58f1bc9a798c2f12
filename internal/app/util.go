package app

import (
	"database/sql"
	"time"
)

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
