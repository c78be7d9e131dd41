package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/learnexity/learnexity-backend/pkg/config"
	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/errors"
	"github.com/learnexity/learnexity-backend/pkg/logger"
)

// BulkSender delivers one broadcast message to one recipient.
type BulkSender interface {
	SendBulkMessage(ctx context.Context, user models.User, subject, body string) error
}

// Result summarizes one broadcast: every resolved recipient is counted exactly
// once as sent or failed.
type Result struct {
	Recipients int
	Sent       int
	Failed     int
	FailedIDs  []uuid.UUID
}

// Service fans a message out to recipients in fixed-size chunks with a pause
// between chunks so the mail provider is never hit with the whole list at once.
// One bad recipient never stops the broadcast.
type Service struct {
	repo     Repository
	notifier BulkSender
	cfg      config.MessagingConfig
	logg     *logger.Logger
	pause    func(ctx context.Context, d time.Duration) error
}

type ServiceParams struct {
	Repo     Repository
	Notifier BulkSender
	Config   config.MessagingConfig
	Logger   *logger.Logger
	// Pause overrides the inter-chunk wait; tests use it to skip real sleeps.
	Pause func(ctx context.Context, d time.Duration) error
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("messaging service requires a repository")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("messaging service requires a bulk sender")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("messaging service requires a logger")
	}
	if params.Config.ChunkSize <= 0 {
		params.Config.ChunkSize = 50
	}
	if params.Config.MaxAttempts <= 0 {
		params.Config.MaxAttempts = 3
	}
	if params.Config.Timeout <= 0 {
		params.Config.Timeout = 10 * time.Minute
	}
	if params.Pause == nil {
		params.Pause = sleepCtx
	}
	return &Service{
		repo:     params.Repo,
		notifier: params.Notifier,
		cfg:      params.Config,
		logg:     params.Logger,
		pause:    params.Pause,
	}, nil
}

// BroadcastWithRetry runs Broadcast and re-runs it, up to the configured
// attempt cap, when it fails on infrastructure rather than on individual
// recipients: a recipient lookup error, or the run deadline expiring. Each
// attempt gets a fresh deadline. A run that reached its recipients but could
// not deliver to some of them is never re-run; that would re-send to everyone
// who already got the message.
func (s *Service) BroadcastWithRetry(ctx context.Context, subject, body string, userIDs []uuid.UUID) (*Result, error) {
	var (
		result *Result
		err    error
	)
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		result, err = s.Broadcast(ctx, subject, body, userIDs)
		if err == nil || !errors.IsCode(err, errors.CodeInternal) {
			return result, err
		}
		attemptCtx := s.logg.WithFields(ctx, map[string]any{
			"subject": subject,
			"attempt": attempt,
		})
		s.logg.Warn(attemptCtx, "broadcast attempt failed")
		if attempt < s.cfg.MaxAttempts {
			if perr := s.pause(ctx, s.cfg.ChunkPause); perr != nil {
				return result, err
			}
		}
	}
	return result, err
}

// Broadcast sends subject/body to the given users, or to every user when
// userIDs is empty. It returns aggregate totals plus the per-recipient errors;
// the error is non-nil when at least one recipient could not be reached after
// all attempts.
func (s *Service) Broadcast(ctx context.Context, subject, body string, userIDs []uuid.UUID) (*Result, error) {
	if subject == "" || body == "" {
		return nil, errors.New(errors.CodeValidation, "broadcast requires a subject and a body")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	recipients, err := s.repo.ListRecipients(ctx, userIDs)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "resolving broadcast recipients")
	}
	if len(recipients) == 0 {
		return nil, errors.New(errors.CodeValidation, "broadcast resolved no recipients")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"subject":    subject,
		"recipients": len(recipients),
	})
	s.logg.Info(ctx, "starting broadcast")

	result := &Result{Recipients: len(recipients)}
	var sendErrs error

	for start := 0; start < len(recipients); start += s.cfg.ChunkSize {
		if start > 0 {
			if err := s.pause(ctx, s.cfg.ChunkPause); err != nil {
				return result, errors.Wrap(errors.CodeInternal, err, "broadcast cancelled between chunks")
			}
		}

		end := start + s.cfg.ChunkSize
		if end > len(recipients) {
			end = len(recipients)
		}

		for _, user := range recipients[start:end] {
			if err := s.sendWithRetry(ctx, user, subject, body); err != nil {
				result.Failed++
				result.FailedIDs = append(result.FailedIDs, user.ID)
				sendErrs = multierr.Append(sendErrs, fmt.Errorf("recipient %s: %w", user.ID, err))
				continue
			}
			result.Sent++
		}
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"sent":   result.Sent,
		"failed": result.Failed,
	})
	if result.Failed > 0 {
		s.logg.Error(ctx, "broadcast finished with failures", sendErrs)
		return result, errors.Wrap(errors.CodeDependency, sendErrs,
			fmt.Sprintf("broadcast delivered %d of %d messages", result.Sent, result.Recipients))
	}
	s.logg.Info(ctx, "broadcast finished")
	return result, nil
}

func (s *Service) sendWithRetry(ctx context.Context, user models.User, subject, body string) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.notifier.SendBulkMessage(ctx, user, subject, body)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
