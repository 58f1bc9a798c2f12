package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
)

var ErrCourseNotFound = fmt.Errorf("course not found")

type PostgresCourseRepository struct {
	db *sql.DB
}

func NewPostgresCourseRepository(db *sql.DB) *PostgresCourseRepository {
	return &PostgresCourseRepository{db: db}
}

func (r *PostgresCourseRepository) GetByCRN(ctx context.Context, crn course.CRN) (*course.Course, error) {
	query := `SELECT crn, term, department, available_seats, waiting_list_count, raw, last_updated
               FROM courses WHERE crn = $1`
	c := course.Course{}
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, string(crn)).Scan(
		&c.CRN, &c.Term, &c.Department, &c.AvailableSeats, &c.WaitingListCount, &raw, &c.LastUpdated,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("error getting course %s: %w", crn, err)
	}
	if len(raw) > 0 {
		c.Raw = json.RawMessage(raw)
	}
	return &c, nil
}

func (r *PostgresCourseRepository) Upsert(ctx context.Context, c *course.Course) error {
	query := `INSERT INTO courses (crn, term, department, available_seats, waiting_list_count, raw, last_updated)
               VALUES ($1, $2, $3, $4, $5, $6, $7)
               ON CONFLICT (crn) DO UPDATE
               SET term = EXCLUDED.term, department = EXCLUDED.department,
                   available_seats = EXCLUDED.available_seats,
                   waiting_list_count = EXCLUDED.waiting_list_count,
                   raw = EXCLUDED.raw, last_updated = EXCLUDED.last_updated`
	_, err := r.db.ExecContext(ctx, query,
		string(c.CRN), c.Term, c.Department, c.AvailableSeats, c.WaitingListCount, nullJSON(c.Raw), c.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("error upserting course %s: %w", c.CRN, err)
	}
	return nil
}
