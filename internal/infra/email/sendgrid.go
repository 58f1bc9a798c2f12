package email

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	domainEmail "github.com/petroly-initiative/petroly-django-sub000/internal/domain/email"
)

const (
	defaultHost = "https://api.sendgrid.com"
	endpoint    = "/v3/mail/send"
)

// SendgridSender delivers notification emails through the SendGrid v3 API.
type SendgridSender struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
}

var _ domainEmail.Sender = (*SendgridSender)(nil)

func NewSendgridSender(apiKey, fromAddress, appName string) *SendgridSender {
	return &SendgridSender{
		key:        apiKey,
		host:       defaultHost,
		from:       sgmail.NewEmail(appName, fromAddress),
		subjPrefix: "[" + appName + "] ",
	}
}

func (s *SendgridSender) prepare(msg domainEmail.Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail("", msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", msg.TextContent),
		sgmail.NewContent("text/html", msg.HTMLContent),
	)
	return m
}

// Send posts the message. Cancelling ctx aborts a request in flight.
func (s *SendgridSender) Send(ctx context.Context, msg domainEmail.Message) error {
	req := sendgrid.GetRequest(s.key, endpoint, s.host)
	req.Method = rest.Post
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := rest.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}
