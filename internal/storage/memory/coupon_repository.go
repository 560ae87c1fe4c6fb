package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// couponRepositoryInMemory хранит купоны и журнал погашений под одним мьютексом,
// поэтому погашение и инкремент used_count атомарны.
type couponRepositoryInMemory struct {
	mu          sync.RWMutex
	coupons     map[string]domain.Coupon
	redemptions []domain.CouponRedemption
	byOrder     map[string]struct{}
}

// NewCouponRepository создаёт in-memory реализацию CouponRepository.
func NewCouponRepository() domain.CouponRepository {
	return &couponRepositoryInMemory{
		coupons: make(map[string]domain.Coupon),
		byOrder: make(map[string]struct{}),
	}
}

func (r *couponRepositoryInMemory) GetByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coupon, ok := r.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return cloneCoupon(coupon), nil
}

func (r *couponRepositoryInMemory) List(_ context.Context) ([]domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Coupon, 0, len(r.coupons))
	for _, coupon := range r.coupons {
		result = append(result, cloneCoupon(coupon))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (r *couponRepositoryInMemory) Create(_ context.Context, coupon domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	if _, exists := r.coupons[coupon.Code]; exists {
		return domain.ErrCouponExists
	}
	if coupon.ID == "" {
		coupon.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = now
	}
	coupon.UpdatedAt = now
	r.coupons[coupon.Code] = cloneCoupon(coupon)
	return nil
}

func (r *couponRepositoryInMemory) SetActive(_ context.Context, code string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	code = domain.NormalizeCouponCode(code)
	coupon, ok := r.coupons[code]
	if !ok {
		return domain.ErrCouponNotFound
	}
	coupon.Active = active
	coupon.UpdatedAt = time.Now().UTC()
	r.coupons[code] = coupon
	return nil
}

func (r *couponRepositoryInMemory) CountRedemptions(_ context.Context, couponID, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, redemption := range r.redemptions {
		if redemption.CouponID == couponID && redemption.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *couponRepositoryInMemory) Redeem(_ context.Context, redemption domain.CouponRedemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.byOrder[redemption.OrderID]; done {
		return domain.ErrRedemptionExists
	}

	code := domain.NormalizeCouponCode(redemption.CouponCode)
	coupon, ok := r.coupons[code]
	if !ok || (redemption.CouponID != "" && coupon.ID != redemption.CouponID) {
		return domain.ErrCouponNotFound
	}

	if redemption.ID == "" {
		redemption.ID = uuid.NewString()
	}
	if redemption.CreatedAt.IsZero() {
		redemption.CreatedAt = time.Now().UTC()
	}
	redemption.CouponID = coupon.ID
	redemption.CouponCode = code

	coupon.UsedCount++
	coupon.UpdatedAt = redemption.CreatedAt
	r.coupons[code] = coupon
	r.redemptions = append(r.redemptions, redemption)
	r.byOrder[redemption.OrderID] = struct{}{}
	return nil
}

func cloneCoupon(src domain.Coupon) domain.Coupon {
	dst := src
	dst.ScopeIDs = append([]string(nil), src.ScopeIDs...)
	if src.MaxUses != nil {
		maxUses := *src.MaxUses
		dst.MaxUses = &maxUses
	}
	return dst
}

var _ domain.CouponRepository = (*couponRepositoryInMemory)(nil)
