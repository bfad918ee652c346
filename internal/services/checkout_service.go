package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

const stepNone = "none"

var (
	// ErrCheckoutUnavailable indicates the session store could not be reached.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")

	errCheckoutNotStarted = &PreconditionError{Reason: "no checkout in progress", Key: "checkout.not_started"}
	errCheckoutNotReady   = &PreconditionError{Reason: "checkout is not awaiting confirmation", Key: "checkout.not_ready"}
)

// CheckoutServiceDeps bundles collaborators required by the checkout service.
type CheckoutServiceDeps struct {
	Sessions        repositories.SessionRepository
	Carts           CartService
	Orders          OrderService
	Machine         *CheckoutMachine
	DefaultLanguage string
	Clock           func() time.Time
	Logger          Logger
	Metrics         MetricsRecorder
}

type checkoutService struct {
	sessions    repositories.SessionRepository
	carts       CartService
	orders      OrderService
	machine     *CheckoutMachine
	defaultLang string
	clock       func() time.Time
	logger      Logger
	metrics     MetricsRecorder
}

// NewCheckoutService constructs the session-backed checkout service.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("checkout service: session repository is required")
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart service is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order service is required")
	case deps.Machine == nil:
		return nil, errors.New("checkout service: machine is required")
	}
	lang := strings.TrimSpace(deps.DefaultLanguage)
	if lang == "" {
		lang = domain.DefaultLanguage
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	var metrics MetricsRecorder = noopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	return &checkoutService{
		sessions:    deps.Sessions,
		carts:       deps.Carts,
		orders:      deps.Orders,
		machine:     deps.Machine,
		defaultLang: lang,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		metrics: metrics,
	}, nil
}

func (s *checkoutService) Current(ctx context.Context, ownerID string) (Session, error) {
	owner, err := normaliseOwner(ownerID)
	if err != nil {
		return Session{}, err
	}
	session, err := s.sessions.Load(ctx, owner)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Session{OwnerID: owner, Language: s.defaultLang}, nil
		}
		return Session{}, s.translateRepoError(ctx, "load", owner, err)
	}
	if session.Language == "" {
		session.Language = s.defaultLang
	}
	return session, nil
}

func (s *checkoutService) SetLanguage(ctx context.Context, ownerID, language string) (Session, error) {
	language = strings.TrimSpace(language)
	if language == "" {
		return Session{}, newValidationError("language", "language.invalid")
	}
	return s.mutate(ctx, "language", ownerID, func(session *Session) error {
		session.Language = language
		return nil
	})
}

func (s *checkoutService) Begin(ctx context.Context, ownerID string) (CheckoutState, error) {
	owner, err := normaliseOwner(ownerID)
	if err != nil {
		return nil, err
	}
	cart, err := s.carts.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	state, err := s.machine.Start(cart)
	if err != nil {
		return nil, err
	}
	from := stepNone
	if _, err := s.mutate(ctx, "begin", owner, func(session *Session) error {
		if session.Checkout != nil {
			from = string(session.Checkout.Step())
		}
		session.Checkout = state
		return nil
	}); err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(from, string(state.Step()))
	return state, nil
}

func (s *checkoutService) Submit(ctx context.Context, ownerID string, input CheckoutInput) (CheckoutState, error) {
	var from, next CheckoutState
	_, err := s.mutate(ctx, "submit", ownerID, func(session *Session) error {
		if session.Checkout == nil {
			return errCheckoutNotStarted
		}
		advanced, err := s.machine.Advance(session.Checkout, input, s.clock())
		if err != nil {
			return err
		}
		from, next = session.Checkout, advanced
		session.Checkout = advanced
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(from.Step()), string(next.Step()))
	return next, nil
}

func (s *checkoutService) Back(ctx context.Context, ownerID string) (CheckoutState, bool, error) {
	var from, prev CheckoutState
	var stay bool
	_, err := s.mutate(ctx, "back", ownerID, func(session *Session) error {
		if session.Checkout == nil {
			return nil
		}
		from = session.Checkout
		prev, stay = s.machine.Back(session.Checkout)
		session.Checkout = prev
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if from != nil {
		to := stepNone
		if stay {
			to = string(prev.Step())
		}
		s.metrics.ObserveTransition(string(from.Step()), to)
	}
	return prev, stay, nil
}

func (s *checkoutService) Cancel(ctx context.Context, ownerID string) (bool, error) {
	var from CheckoutState
	_, err := s.mutate(ctx, "cancel", ownerID, func(session *Session) error {
		from = session.Checkout
		session.Checkout = nil
		return nil
	})
	if err != nil {
		return false, err
	}
	if from == nil {
		return false, nil
	}
	s.metrics.ObserveTransition(string(from.Step()), string(domain.OutcomeCancelled))
	return true, nil
}

// Confirm claims the confirmed draft before placing the order, so a repeated confirm cannot place it twice.
func (s *checkoutService) Confirm(ctx context.Context, requester Requester) (OrderReceipt, error) {
	owner, err := normaliseOwner(requester.OwnerID)
	if err != nil {
		return OrderReceipt{}, err
	}
	var claimed domain.Confirmation
	if _, err := s.mutate(ctx, "confirm", owner, func(session *Session) error {
		confirmation, ok := session.Checkout.(domain.Confirmation)
		if !ok {
			return errCheckoutNotReady
		}
		claimed = confirmation
		session.Checkout = nil
		return nil
	}); err != nil {
		return OrderReceipt{}, err
	}

	requester.OwnerID = owner
	receipt, err := s.orders.PlaceOrder(ctx, PlaceOrderCommand{Requester: requester, Draft: claimed.Draft})
	if err != nil {
		if !errors.Is(err, ErrPrecondition) {
			s.restoreDraft(ctx, owner, claimed)
		}
		return OrderReceipt{}, err
	}
	s.metrics.ObserveTransition(string(domain.StepConfirmation), string(domain.OutcomeConfirmed))
	return receipt, nil
}

// restoreDraft puts the claimed confirmation back after a retryable failure, unless the owner moved on.
func (s *checkoutService) restoreDraft(ctx context.Context, owner string, claimed domain.Confirmation) {
	_, err := s.mutate(ctx, "restore", owner, func(session *Session) error {
		if session.Checkout == nil {
			session.Checkout = claimed
		}
		return nil
	})
	if err != nil {
		s.logger(ctx, "checkout.restore.failed", map[string]any{"ownerID": owner, "error": err})
	}
}

func (s *checkoutService) mutate(ctx context.Context, op, ownerID string, fn func(*Session) error) (Session, error) {
	owner, err := normaliseOwner(ownerID)
	if err != nil {
		return Session{}, err
	}
	var fnErr error
	session, err := s.sessions.Mutate(ctx, owner, func(session *domain.Session) error {
		if session.OwnerID == "" {
			session.OwnerID = owner
		}
		if session.Language == "" {
			session.Language = s.defaultLang
		}
		if fnErr = fn(session); fnErr != nil {
			return fnErr
		}
		session.UpdatedAt = s.clock()
		return nil
	})
	if err != nil {
		if fnErr != nil {
			return Session{}, fnErr
		}
		return Session{}, s.translateRepoError(ctx, op, owner, err)
	}
	return session, nil
}

func (s *checkoutService) translateRepoError(ctx context.Context, op, owner string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger(ctx, "checkout."+op+".failed", map[string]any{"ownerID": owner, "error": err})
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return errors.Join(ErrCheckoutUnavailable, err)
	}
	return err
}
