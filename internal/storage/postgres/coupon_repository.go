package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

const couponColumns = `id, code, type, value, min_subtotal_minor, max_uses, max_uses_per_user,
	scope, scope_ids, stackable, active, starts_at, ends_at, used_count, created_at, updated_at`

type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{db: store.DB()}
}

func (r *couponRepository) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	coupon, err := scanCoupon(r.db.QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE code = $1
	`, domain.NormalizeCouponCode(code)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	return coupon, nil
}

func (r *couponRepository) List(ctx context.Context) ([]domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	coupons := make([]domain.Coupon, 0)
	for rows.Next() {
		coupon, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, coupon)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupons: %w", err)
	}
	return coupons, nil
}

func (r *couponRepository) Create(ctx context.Context, coupon domain.Coupon) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if coupon.ID == "" {
		coupon.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = now
	}
	scopeIDs, err := json.Marshal(nonNilIDs(coupon.ScopeIDs))
	if err != nil {
		return fmt.Errorf("encode coupon scope: %w", err)
	}

	var maxUses sql.NullInt64
	if coupon.MaxUses != nil {
		maxUses = sql.NullInt64{Int64: int64(*coupon.MaxUses), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		coupon.ID, domain.NormalizeCouponCode(coupon.Code), string(coupon.Type), coupon.Value,
		coupon.MinSubtotalMinor, maxUses, coupon.MaxUsesPerUser,
		string(coupon.Scope), string(scopeIDs), coupon.Stackable, coupon.Active,
		nullTime(coupon.StartsAt), nullTime(coupon.EndsAt), coupon.UsedCount, coupon.CreatedAt, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCouponExists
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (r *couponRepository) SetActive(ctx context.Context, code string, active bool) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE coupons SET active = $1, updated_at = $2 WHERE code = $3
	`, active, time.Now().UTC(), domain.NormalizeCouponCode(code))
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

func (r *couponRepository) CountRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2
	`, couponID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count coupon redemptions: %w", err)
	}
	return count, nil
}

// Redeem вставляет погашение и увеличивает used_count в одной транзакции.
// Уникальный индекс по order_id делает повторное погашение для заказа невозможным.
func (r *couponRepository) Redeem(ctx context.Context, redemption domain.CouponRedemption) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if redemption.ID == "" {
		redemption.ID = uuid.NewString()
	}
	if redemption.CreatedAt.IsZero() {
		redemption.CreatedAt = time.Now().UTC()
	}
	code := domain.NormalizeCouponCode(redemption.CouponCode)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var couponID string
	if err := tx.QueryRowContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1,
		    updated_at = $2
		WHERE code = $1
		RETURNING id
	`, code, redemption.CreatedAt).Scan(&couponID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrCouponNotFound
		}
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if redemption.CouponID != "" && redemption.CouponID != couponID {
		return domain.ErrCouponNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO coupon_redemptions (id, coupon_id, coupon_code, user_id, order_id, discount_minor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		redemption.ID, couponID, code, redemption.UserID, redemption.OrderID,
		redemption.DiscountMinor, redemption.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRedemptionExists
		}
		return fmt.Errorf("insert coupon redemption: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit coupon redemption: %w", err)
	}
	return nil
}

func scanCoupon(row rowScanner) (domain.Coupon, error) {
	var (
		coupon   domain.Coupon
		kind     string
		scope    string
		scopeRaw []byte
		maxUses  sql.NullInt64
		startsAt sql.NullTime
		endsAt   sql.NullTime
	)
	if err := row.Scan(
		&coupon.ID, &coupon.Code, &kind, &coupon.Value, &coupon.MinSubtotalMinor, &maxUses, &coupon.MaxUsesPerUser,
		&scope, &scopeRaw, &coupon.Stackable, &coupon.Active, &startsAt, &endsAt, &coupon.UsedCount,
		&coupon.CreatedAt, &coupon.UpdatedAt,
	); err != nil {
		return domain.Coupon{}, err
	}

	coupon.Type = domain.DiscountType(kind)
	coupon.Scope = domain.CouponScope(scope)
	if len(scopeRaw) > 0 {
		if err := json.Unmarshal(scopeRaw, &coupon.ScopeIDs); err != nil {
			return domain.Coupon{}, fmt.Errorf("decode coupon scope: %w", err)
		}
	}
	if maxUses.Valid {
		v := int(maxUses.Int64)
		coupon.MaxUses = &v
	}
	if startsAt.Valid {
		t := startsAt.Time.UTC()
		coupon.StartsAt = &t
	}
	if endsAt.Valid {
		t := endsAt.Time.UTC()
		coupon.EndsAt = &t
	}
	return coupon, nil
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

var _ domain.CouponRepository = (*couponRepository)(nil)
