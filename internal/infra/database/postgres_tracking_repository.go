package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq" // For pq.Array

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/tracking"
)

var ErrTrackingListNotFound = fmt.Errorf("tracking list not found")

type PostgresTrackingRepository struct {
	db *sql.DB
}

func NewPostgresTrackingRepository(db *sql.DB) *PostgresTrackingRepository {
	return &PostgresTrackingRepository{db: db}
}

func scanChannels(raw []string) []tracking.Channel {
	channels := make([]tracking.Channel, 0, len(raw))
	for _, ch := range raw {
		channels = append(channels, tracking.Channel(ch))
	}
	return channels
}

func (r *PostgresTrackingRepository) GetByID(ctx context.Context, id int64) (*tracking.List, error) {
	query := `SELECT id, user_id, channels, telegram_chat_id, email, created_at, updated_at
               FROM tracking_lists WHERE id = $1`
	l := tracking.List{}
	var channels []string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&l.ID, &l.UserID, pq.Array(&channels), &l.TelegramChatID, &l.Email, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTrackingListNotFound
		}
		return nil, fmt.Errorf("error getting tracking list by ID: %w", err)
	}
	l.Channels = scanChannels(channels)
	return &l, nil
}

// ListWithCourses loads lists and their courses in one join, ordered by list then CRN.
func (r *PostgresTrackingRepository) ListWithCourses(ctx context.Context) ([]*tracking.List, error) {
	query := `SELECT tl.id, tl.user_id, tl.channels, tl.telegram_chat_id, tl.email, tl.created_at, tl.updated_at,
                      c.crn, c.term, c.department, c.available_seats, c.waiting_list_count, c.raw, c.last_updated
               FROM tracking_lists tl
               JOIN tracking_list_courses tlc ON tlc.tracking_list_id = tl.id
               JOIN courses c ON c.crn = tlc.crn
               ORDER BY tl.id, c.crn`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying tracking lists with courses: %w", err)
	}
	defer rows.Close()

	lists := make([]*tracking.List, 0)
	var current *tracking.List
	for rows.Next() {
		l := tracking.List{}
		c := course.Course{}
		var channels []string
		var raw []byte
		if err := rows.Scan(
			&l.ID, &l.UserID, pq.Array(&channels), &l.TelegramChatID, &l.Email, &l.CreatedAt, &l.UpdatedAt,
			&c.CRN, &c.Term, &c.Department, &c.AvailableSeats, &c.WaitingListCount, &raw, &c.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("error scanning tracking list row: %w", err)
		}
		if len(raw) > 0 {
			c.Raw = json.RawMessage(raw)
		}
		if current == nil || current.ID != l.ID {
			l.Channels = scanChannels(channels)
			current = &l
			lists = append(lists, current)
		}
		current.Courses = append(current.Courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracking list rows: %w", err)
	}
	return lists, nil
}
