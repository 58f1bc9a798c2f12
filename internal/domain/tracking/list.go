package tracking

import (
	"database/sql"
	"time"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
)

// Channel is a delivery channel a user picked for their notifications.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelPush     Channel = "PUSH"
	ChannelTelegram Channel = "TELEGRAM"
)

// List is a user's tracking list: the courses they watch and how to reach them.
// One list per user.
type List struct {
	ID             int64
	UserID         int64
	Channels       []Channel
	TelegramChatID sql.NullInt64
	Email          sql.NullString
	Courses        []course.Course
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (l *List) HasChannel(ch Channel) bool {
	for _, c := range l.Channels {
		if c == ch {
			return true
		}
	}
	return false
}
