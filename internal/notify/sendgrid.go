package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/learnexity/learnexity-backend/pkg/config"
	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	"github.com/learnexity/learnexity-backend/pkg/logger"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendgridNotifier sends via the SendGrid v3 mail API and records every
// attempted delivery as a Notification row.
type SendgridNotifier struct {
	key  string
	from *sgmail.Email
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

var _ Notifier = (*SendgridNotifier)(nil)

type SendgridParams struct {
	Config config.SendgridConfig
	Repo   Repository
	Logger *logger.Logger
	Now    func() time.Time
}

func NewSendgridNotifier(params SendgridParams) (*SendgridNotifier, error) {
	if params.Config.APIKey == "" {
		return nil, fmt.Errorf("sendgrid notifier requires an api key")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("sendgrid notifier requires a notification repository")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("sendgrid notifier requires a logger")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &SendgridNotifier{
		key:  params.Config.APIKey,
		from: sgmail.NewEmail(params.Config.FromName, params.Config.DefaultFrom),
		repo: params.Repo,
		logg: params.Logger,
		now:  params.Now,
	}, nil
}

func (n *SendgridNotifier) SendReminder(ctx context.Context, user models.User, enrollment models.Enrollment, reminder enums.ReminderType, daysDelta int) error {
	subject := reminderSubject(reminder, daysDelta)
	body := reminderBody(user, enrollment, reminder, daysDelta)
	return n.deliver(ctx, user, &enrollment.ID, enums.NotificationPaymentReminder, subject, body)
}

func (n *SendgridNotifier) SendPaymentConfirmation(ctx context.Context, user models.User, enrollment models.Enrollment, installmentNumber int) error {
	subject := confirmationSubject(enrollment, installmentNumber)
	body := confirmationBody(user, enrollment, installmentNumber)
	return n.deliver(ctx, user, &enrollment.ID, enums.NotificationPaymentConfirmation, subject, body)
}

func (n *SendgridNotifier) SendBulkMessage(ctx context.Context, user models.User, subject, body string) error {
	return n.deliver(ctx, user, nil, enums.NotificationBulkMessage, subject, body)
}

func (n *SendgridNotifier) deliver(ctx context.Context, user models.User, enrollmentID *uuid.UUID, kind enums.NotificationType, subject, body string) error {
	record := &models.Notification{
		UserID:       user.ID,
		EnrollmentID: enrollmentID,
		Type:         kind,
		Subject:      subject,
		Body:         body,
	}

	sendErr := n.send(ctx, user, subject, body)
	if sendErr == nil {
		sentAt := n.now().UTC()
		record.SentAt = &sentAt
	}

	// The audit row is written either way; a missing SentAt marks a failed send.
	if err := n.repo.Create(ctx, record); err != nil {
		n.logg.Error(ctx, "recording notification", err)
	}
	return sendErr
}

func (n *SendgridNotifier) send(ctx context.Context, user models.User, subject, body string) error {
	message := sgmail.NewV3Mail()
	message.SetFrom(n.from)

	p := sgmail.NewPersonalization()
	p.Subject = subject
	p.AddTos(sgmail.NewEmail(user.FullName(), user.Email))
	message.AddPersonalizations(p)
	message.AddContent(sgmail.NewContent("text/plain", body))

	req := sendgrid.GetRequest(n.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(message)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("calling sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid rejected message: status %d", res.StatusCode)
	}
	return nil
}
