// Package promotions manages sale announcements written by store staff:
// the rate-limited create and edit gate, moderation and dispersal.
package promotions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"saledrop-pipeline/internal/config"
	"saledrop-pipeline/internal/ledger"
	"saledrop-pipeline/internal/metrics"
	"saledrop-pipeline/internal/models"
	"saledrop-pipeline/internal/notify"
	"saledrop-pipeline/internal/ratelimit"
)

var (
	// ErrRateLimited is wrapped by LimitError
	ErrRateLimited = errors.New("promotions: rate limit reached")
	// ErrInvalidRequest wraps field validation failures
	ErrInvalidRequest = errors.New("promotions: invalid request")
	// ErrAlreadySent is returned when editing a dispatched message
	ErrAlreadySent = errors.New("promotions: message already sent")
	// ErrInvalidTransition is returned when a message cannot move to the requested state
	ErrInvalidTransition = errors.New("promotions: invalid state transition")
)

const batchLimit = 50

// LimitError carries the user-facing explanation of a rate limit rejection
type LimitError struct {
	Message string
}

func (e *LimitError) Error() string { return e.Message }

func (e *LimitError) Unwrap() error { return ErrRateLimited }

// Repository is the storage used by the service
type Repository interface {
	GetStore(ctx context.Context, id uint) (*models.Store, error)
	CreatePromotion(ctx context.Context, p *models.PromotionalMessage) error
	SavePromotion(ctx context.Context, p *models.PromotionalMessage) error
	GetPromotion(ctx context.Context, id uint) (*models.PromotionalMessage, error)
	PromotionDates(ctx context.Context, storeID, excludeID uint) ([]time.Time, error)
	PromotionsInState(ctx context.Context, limit int, states ...models.ModerationState) ([]models.PromotionalMessage, error)
	SetPromotionState(ctx context.Context, id uint, state models.ModerationState) error
	MarkPromotionSent(ctx context.Context, id uint, at time.Time) error
	CreateModerationResult(ctx context.Context, res *models.ModerationResult) error
}

// Dispatcher sends a public-ready message to the store's subscribers
type Dispatcher interface {
	DispatchPromotion(ctx context.Context, p *models.PromotionalMessage, store *models.Store) (notify.Result, error)
}

// Service implements the promotional message workflow
type Service struct {
	repo       Repository
	limiter    ratelimit.Limiter
	validate   *validator.Validate
	moderator  *Moderator
	dispatcher Dispatcher
	ledger     ledger.Recorder
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates the service. A nil moderator approves every message
// without review.
func NewService(repo Repository, moderator *Moderator, dispatcher Dispatcher, rec ledger.Recorder, m *metrics.Metrics, cfg config.RateLimitConfig) *Service {
	return &Service{
		repo:       repo,
		limiter:    ratelimit.New(cfg),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		moderator:  moderator,
		dispatcher: dispatcher,
		ledger:     rec,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// LimitMessage is shown when a store tries to schedule too many messages
func (s *Service) LimitMessage() string {
	days := int(s.limiter.Window / (24 * time.Hour))
	return fmt.Sprintf("Limiet bereikt. U kunt niet meer dan %d sales binnen een periode van %d dagen inplannen.",
		s.limiter.MaxCount, days)
}

// Create stores a new promotional message for storeID unless its effective
// date would put the store over the limit
func (s *Service) Create(ctx context.Context, storeID uint, req *models.PromotionRequest) (*models.PromotionalMessage, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetStore(ctx, storeID); err != nil {
		return nil, err
	}

	now := s.now()
	candidate := now
	if req.ScheduledAt != nil {
		candidate = req.ScheduledAt.UTC()
	}
	if err := s.gate(ctx, storeID, 0, candidate); err != nil {
		return nil, err
	}

	p := &models.PromotionalMessage{StoreID: storeID, State: models.StateUnreviewed, CreatedAt: now}
	apply(p, req)
	if err := s.repo.CreatePromotion(ctx, p); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"store_id": storeID, "promotion_id": p.ID}).Info("Promotional message created")
	return p, nil
}

// Update edits an unsent message. Its own date is left out of the limit
// check and moderation starts over.
func (s *Service) Update(ctx context.Context, id uint, req *models.PromotionRequest) (*models.PromotionalMessage, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	p, err := s.repo.GetPromotion(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.SentAt != nil {
		return nil, ErrAlreadySent
	}

	candidate := p.CreatedAt
	if req.ScheduledAt != nil {
		candidate = req.ScheduledAt.UTC()
	}
	if err := s.gate(ctx, p.StoreID, p.ID, candidate); err != nil {
		return nil, err
	}

	apply(p, req)
	p.State = models.StateUnreviewed
	if err := s.repo.SavePromotion(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// LimitStatus reports whether the store is at or over its limit already
func (s *Service) LimitStatus(ctx context.Context, storeID uint) (*models.LimitStatusResponse, error) {
	dates, err := s.repo.PromotionDates(ctx, storeID, 0)
	if err != nil {
		return nil, err
	}
	return &models.LimitStatusResponse{
		StoreID:  storeID,
		AtLimit:  s.limiter.AtLimit(dates),
		Violated: s.limiter.Violated(dates),
	}, nil
}

// Approve moves a message held for review to manually-approved
func (s *Service) Approve(ctx context.Context, id uint) error {
	p, err := s.repo.GetPromotion(ctx, id)
	if err != nil {
		return err
	}
	if p.State != models.StateFlagged && p.State != models.StateUnreviewed {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, p.State, models.StateManuallyApproved)
	}
	return s.repo.SetPromotionState(ctx, id, models.StateManuallyApproved)
}

// Moderate classifies every unreviewed message and returns how many got a verdict
func (s *Service) Moderate(ctx context.Context) (int, error) {
	pending, err := s.repo.PromotionsInState(ctx, batchLimit, models.StateUnreviewed)
	if err != nil {
		return 0, err
	}

	done := 0
	for i := range pending {
		p := &pending[i]
		if s.moderator == nil {
			if err := s.repo.SetPromotionState(ctx, p.ID, models.StateAutoApproved); err != nil {
				return done, err
			}
			done++
			continue
		}

		verdict, err := s.moderator.Classify(ctx, p)
		if err != nil {
			s.ledger.Record(ctx, ledger.TaskModeration, false, fmt.Errorf("promotion %d: %w", p.ID, err))
			continue
		}

		if err := s.repo.CreateModerationResult(ctx, &models.ModerationResult{
			PromotionalMessageID: p.ID,
			IsSafe:               verdict.IsSafe,
			Reason:               verdict.Reason,
			Category:             verdict.Category,
		}); err != nil {
			return done, err
		}

		state := models.StateAutoApproved
		if !verdict.IsSafe {
			state = models.StateFlagged
		}
		if err := s.repo.SetPromotionState(ctx, p.ID, state); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// Disperse publishes approved messages whose effective date has passed and
// sends every public-ready message that was not sent yet. It returns the
// number of messages sent.
func (s *Service) Disperse(ctx context.Context) (int, error) {
	now := s.now()

	approved, err := s.repo.PromotionsInState(ctx, batchLimit, models.StateAutoApproved, models.StateManuallyApproved)
	if err != nil {
		return 0, err
	}
	for i := range approved {
		if approved[i].EffectiveDate().After(now) {
			continue
		}
		if err := s.repo.SetPromotionState(ctx, approved[i].ID, models.StatePublicReady); err != nil {
			return 0, err
		}
	}

	ready, err := s.repo.PromotionsInState(ctx, batchLimit, models.StatePublicReady)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].EffectiveDate().Before(ready[j].EffectiveDate())
	})

	sent := 0
	for i := range ready {
		p := &ready[i]
		if p.EffectiveDate().After(now) {
			continue
		}
		if p.Store == nil {
			s.ledger.Record(ctx, ledger.TaskDisperse, true, fmt.Errorf("promotion %d has no store", p.ID))
			continue
		}

		res, err := s.dispatcher.DispatchPromotion(ctx, p, p.Store)
		if err != nil {
			s.ledger.Record(ctx, ledger.TaskDisperse, true, fmt.Errorf("promotion %d: %w", p.ID, err))
			continue
		}
		if err := s.repo.MarkPromotionSent(ctx, p.ID, now); err != nil {
			return sent, err
		}
		sent++
		s.metrics.PromotionsSent.Inc()

		logrus.WithFields(logrus.Fields{
			"promotion_id": p.ID,
			"store":        p.Store.Name,
			"recipients":   res.Recipients,
		}).Info("Promotional message dispersed")
	}
	return sent, nil
}

func (s *Service) check(req *models.PromotionRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidRequest, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (s *Service) gate(ctx context.Context, storeID, excludeID uint, candidate time.Time) error {
	dates, err := s.repo.PromotionDates(ctx, storeID, excludeID)
	if err != nil {
		return err
	}
	if s.limiter.WouldViolate(dates, candidate) {
		return &LimitError{Message: s.LimitMessage()}
	}
	return nil
}

func apply(p *models.PromotionalMessage, req *models.PromotionRequest) {
	p.AuthorID = req.AuthorID
	p.Link = req.Link
	p.Title = req.Title
	p.Grabber = req.Grabber
	p.Description = req.Description
	p.ScheduledAt = nil
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		p.ScheduledAt = &at
	}
}
