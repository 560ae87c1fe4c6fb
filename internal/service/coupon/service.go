package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// Evaluation: результат проверки купона для корзины.
type Evaluation struct {
	Coupon domain.Coupon
	// EligibleMinor: часть подытога, попадающая в область действия купона.
	EligibleMinor int64
	DiscountMinor int64
}

// Service проверяет купоны и обслуживает админские операции над ними.
type Service struct {
	coupons domain.CouponRepository
	logger  *log.Entry
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени (используется в тестах окна действия).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис купонов.
func NewService(coupons domain.CouponRepository, options ...Option) *Service {
	s := &Service{
		coupons: coupons,
		logger:  log.WithField("component", "coupon"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Evaluate проверяет купон для корзины и считает скидку. Ничего не пишет.
// Проверки идут в фиксированном порядке, первая неудачная возвращает свою ошибку.
// lines может быть пустым: тогда подходящей суммой для scope=all считается subtotalMinor.
func (s *Service) Evaluate(ctx context.Context, code string, lines []domain.PricedLine, subtotalMinor int64, userID string) (Evaluation, error) {
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return Evaluation{}, domain.ErrCouponCodeRequired
	}

	coupon, err := s.coupons.GetByCode(ctx, code)
	if err != nil {
		return Evaluation{}, err
	}

	if !coupon.Active {
		return Evaluation{}, domain.ErrCouponInactive
	}

	now := s.now()
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return Evaluation{}, domain.ErrCouponNotStarted
	}
	if coupon.EndsAt != nil && now.After(*coupon.EndsAt) {
		return Evaluation{}, domain.ErrCouponExpired
	}

	if coupon.MaxUses != nil && coupon.UsedCount >= *coupon.MaxUses {
		return Evaluation{}, domain.ErrCouponUsageExceeded
	}

	if userID != "" && coupon.MaxUsesPerUser > 0 {
		used, err := s.coupons.CountRedemptions(ctx, coupon.ID, userID)
		if err != nil {
			return Evaluation{}, fmt.Errorf("count coupon redemptions: %w", err)
		}
		if used >= coupon.MaxUsesPerUser {
			return Evaluation{}, domain.ErrCouponUserLimit
		}
	}

	if subtotalMinor < coupon.MinSubtotalMinor {
		return Evaluation{}, domain.ErrCouponMinSubtotal
	}

	eligible := eligibleSubtotal(&coupon, lines, subtotalMinor)
	if eligible <= 0 {
		return Evaluation{}, domain.ErrCouponNotApplicable
	}

	return Evaluation{
		Coupon:        coupon,
		EligibleMinor: eligible,
		DiscountMinor: coupon.DiscountFor(eligible),
	}, nil
}

func eligibleSubtotal(coupon *domain.Coupon, lines []domain.PricedLine, subtotalMinor int64) int64 {
	if len(lines) == 0 {
		if coupon.Scope == domain.CouponScopeAll || coupon.Scope == "" {
			return subtotalMinor
		}
		return 0
	}

	var eligible int64
	for _, line := range lines {
		if coupon.AppliesTo(line) {
			eligible += line.TotalMinor
		}
	}
	return eligible
}

// List возвращает все купоны.
func (s *Service) List(ctx context.Context) ([]domain.Coupon, error) {
	return s.coupons.List(ctx)
}

// Get возвращает купон по коду.
func (s *Service) Get(ctx context.Context, code string) (domain.Coupon, error) {
	return s.coupons.GetByCode(ctx, code)
}

// Create валидирует и сохраняет новый купон.
func (s *Service) Create(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if coupon.Scope == "" {
		coupon.Scope = domain.CouponScopeAll
	}
	if errs := coupon.Validate(); len(errs) > 0 {
		return domain.Coupon{}, fmt.Errorf("%w: %w", domain.ErrCouponInvalid, errors.Join(errs...))
	}
	coupon.UsedCount = 0

	if err := s.coupons.Create(ctx, coupon); err != nil {
		return domain.Coupon{}, err
	}

	s.logger.WithFields(log.Fields{
		"code":  coupon.Code,
		"type":  coupon.Type,
		"value": coupon.Value.String(),
	}).Info("coupon created")

	return s.coupons.GetByCode(ctx, coupon.Code)
}

// SetActive включает или выключает купон.
func (s *Service) SetActive(ctx context.Context, code string, active bool) (domain.Coupon, error) {
	if err := s.coupons.SetActive(ctx, code, active); err != nil {
		return domain.Coupon{}, err
	}
	s.logger.WithFields(log.Fields{"code": domain.NormalizeCouponCode(code), "active": active}).Info("coupon state changed")
	return s.coupons.GetByCode(ctx, code)
}
