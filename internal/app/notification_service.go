// internal/app/notification_service.go
package app

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/email"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/notification"
	domainTelegram "github.com/petroly-initiative/petroly-django-sub000/internal/domain/telegram"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/tracking"
)

// NotificationService delivers notification jobs over the channels a tracker chose.
type NotificationService struct {
	lists          tracking.Repository
	telegramClient domainTelegram.Client // nil when Telegram is not configured
	emailSender    email.Sender          // nil when email is not configured
	logger         *logrus.Entry
}

func NewNotificationService(
	lists tracking.Repository,
	tc domainTelegram.Client,
	es email.Sender,
	logger *logrus.Entry,
) *NotificationService {
	return &NotificationService{
		lists:          lists,
		telegramClient: tc,
		emailSender:    es,
		logger:         logger,
	}
}

// Send delivers job on every channel of its tracker. It fails only when every
// attempted channel failed, so the queue retries without re-sending delivered copies
// in the common partial-failure case.
func (s *NotificationService) Send(ctx context.Context, job notification.Job) error {
	logCtx := s.logger.WithFields(logrus.Fields{
		"tracker_id": job.TrackerID,
		"user_id":    job.UserID,
		"cycle_id":   job.CycleID,
	})
	if len(job.Entries) == 0 {
		logCtx.Debug("Empty notification job, nothing to send")
		return nil
	}

	list, err := s.lists.GetByID(ctx, job.TrackerID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load tracking list")
		return fmt.Errorf("loading tracking list %d: %w", job.TrackerID, err)
	}

	attempted, failed := 0, 0
	var lastErr error
	for _, ch := range job.Channels {
		chLog := logCtx.WithField("channel", ch)
		var err error
		switch ch {
		case tracking.ChannelTelegram:
			if s.telegramClient == nil || !list.TelegramChatID.Valid {
				chLog.Warn("Telegram channel selected but not available, skipping")
				continue
			}
			attempted++
			err = s.telegramClient.SendMessage(list.TelegramChatID.Int64, RenderText(job), &telebot.SendOptions{ParseMode: telebot.ModeHTML})
		case tracking.ChannelEmail:
			if s.emailSender == nil || !list.Email.Valid || list.Email.String == "" {
				chLog.Warn("Email channel selected but not available, skipping")
				continue
			}
			attempted++
			err = s.emailSender.Send(ctx, email.Message{
				To:          list.Email.String,
				Subject:     renderSubject(job),
				TextContent: renderPlain(job),
				HTMLContent: RenderText(job),
			})
		case tracking.ChannelPush:
			chLog.Warn("Push delivery is not available in this service, skipping")
			continue
		default:
			chLog.Warn("Unknown notification channel, skipping")
			continue
		}

		if err != nil {
			failed++
			lastErr = err
			chLog.WithError(err).Error("Failed to deliver notification")
			continue
		}
		chLog.WithField("entries", len(job.Entries)).Info("Notification delivered")
	}

	if attempted > 0 && failed == attempted {
		return fmt.Errorf("all %d channels failed for tracker %d: %w", attempted, job.TrackerID, lastErr)
	}
	return nil
}

func renderSubject(job notification.Job) string {
	if len(job.Entries) == 1 {
		o := job.Entries[0].Course.Offering()
		return fmt.Sprintf("Seat update for %s (CRN %s)", o.CourseNumber, o.CRN)
	}
	return fmt.Sprintf("Seat updates for %d tracked sections", len(job.Entries))
}

// RenderText renders the Telegram/HTML body of a job.
func RenderText(job notification.Job) string {
	var b strings.Builder
	b.WriteString("<b>Course availability changed</b>\n")
	for _, e := range job.Entries {
		o := e.Course.Offering()
		fmt.Fprintf(&b, "\n<b>%s-%s</b> %s (CRN <code>%s</code>)\nSeats: %d | Waiting list: %d\n",
			html.EscapeString(o.CourseNumber), html.EscapeString(o.SectionNumber),
			html.EscapeString(o.CourseTitle), html.EscapeString(string(o.CRN)),
			e.Status.AvailableSeats, e.Status.WaitingListCount)
	}
	return b.String()
}

func renderPlain(job notification.Job) string {
	var b strings.Builder
	b.WriteString("Course availability changed\n")
	for _, e := range job.Entries {
		o := e.Course.Offering()
		fmt.Fprintf(&b, "\n%s-%s %s (CRN %s)\nSeats: %d | Waiting list: %d\n",
			o.CourseNumber, o.SectionNumber, o.CourseTitle, o.CRN,
			e.Status.AvailableSeats, e.Status.WaitingListCount)
	}
	return b.String()
}
