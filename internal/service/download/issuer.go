// Package download выдаёт подписанные ссылки на купленные файлы.
package download

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/metrics"
)

// Config задаёт параметры выдачи ссылок.
type Config struct {
	// Window: сколько времени после оплаты файлы доступны.
	Window time.Duration
	// LinkTTL: срок жизни ссылки, выданной по запросу.
	LinkTTL time.Duration
	// EmailLinkTTL: срок жизни ссылок в письме-подтверждении.
	EmailLinkTTL time.Duration
	// MaxDownloads: лимит выдач на позицию, 0 отключает лимит.
	MaxDownloads int
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		Window:       30 * 24 * time.Hour,
		LinkTTL:      5 * time.Minute,
		EmailLinkTTL: time.Hour,
		MaxDownloads: 5,
	}
}

// Requester: аутентифицированный пользователь, запросивший ссылку.
type Requester struct {
	UserID string
	Email  string
}

// LinkRequest: запрос ссылки на файл позиции заказа.
type LinkRequest struct {
	// OrderRef: id заказа или id платежа у провайдера; может быть пустым.
	OrderRef  string
	ItemID    string
	Requester Requester
}

// Link: выданная ссылка.
type Link struct {
	URL       string
	ExpiresIn time.Duration
	FileName  string
	ItemID    string
}

// Issuer проверяет право на скачивание и подписывает ссылку.
type Issuer struct {
	orders  domain.OrderRepository
	catalog domain.CatalogRepository
	signer  domain.ObjectSigner
	cfg     Config
	metrics *metrics.PaymentMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewIssuer создаёт Issuer.
func NewIssuer(
	cfg Config,
	orders domain.OrderRepository,
	catalog domain.CatalogRepository,
	signer domain.ObjectSigner,
	m *metrics.PaymentMetrics,
	logger *log.Entry,
) *Issuer {
	if logger == nil {
		logger = log.WithField("component", "download")
	}
	defaults := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = defaults.LinkTTL
	}
	if cfg.EmailLinkTTL <= 0 {
		cfg.EmailLinkTTL = defaults.EmailLinkTTL
	}
	return &Issuer{
		orders:  orders,
		catalog: catalog,
		signer:  signer,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник времени.
func (i *Issuer) SetClock(now func() time.Time) {
	if now != nil {
		i.now = now
	}
}

// IssueLink проверяет владение, оплату и окно скачивания и выдаёт ссылку.
func (i *Issuer) IssueLink(ctx context.Context, req LinkRequest) (Link, error) {
	link, err := i.issue(ctx, req)
	i.metrics.RecordDownloadLink(resultLabel(err))
	if err != nil {
		i.logger.WithError(err).WithFields(log.Fields{
			"order_ref": req.OrderRef,
			"item_id":   req.ItemID,
		}).Info("download link refused")
	}
	return link, err
}

func (i *Issuer) issue(ctx context.Context, req LinkRequest) (Link, error) {
	requester := Requester{
		UserID: strings.TrimSpace(req.Requester.UserID),
		Email:  strings.ToLower(strings.TrimSpace(req.Requester.Email)),
	}
	if requester.UserID == "" && requester.Email == "" {
		return Link{}, domain.ErrUnauthenticated
	}
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		return Link{}, domain.Validationf("order item id is required")
	}

	order, err := i.findOrder(ctx, strings.TrimSpace(req.OrderRef), itemID)
	if err != nil {
		return Link{}, err
	}
	item, ok := order.Item(itemID)
	if !ok {
		return Link{}, domain.ErrOrderItemNotFound
	}

	if !owns(order, requester) {
		return Link{}, domain.ErrDownloadForbidden
	}
	if !isPaid(order) {
		return Link{}, domain.ErrOrderNotPaid
	}
	if i.expired(order) {
		return Link{}, domain.ErrDownloadExpired
	}

	file, err := i.fileFor(ctx, item)
	if err != nil {
		return Link{}, err
	}

	url, err := i.signer.SignedURL(ctx, file.StorageKey, i.cfg.LinkTTL)
	if err != nil {
		return Link{}, domain.UpstreamError("sign download url", err)
	}
	if err := i.orders.IncrementDownloadCount(ctx, item.ID, i.cfg.MaxDownloads); err != nil {
		return Link{}, err
	}

	return Link{URL: url, ExpiresIn: i.cfg.LinkTTL, FileName: file.FileName, ItemID: item.ID}, nil
}

// LinksForOrder подписывает ссылки на все позиции оплаченного заказа для письма.
// Позиции без файла пропускаются. Счётчик скачиваний не меняется.
func (i *Issuer) LinksForOrder(ctx context.Context, order domain.Order) ([]Link, error) {
	links := make([]Link, 0, len(order.Items))
	for _, item := range order.Items {
		file, err := i.fileFor(ctx, item)
		if err != nil {
			if errors.Is(err, domain.ErrFileNotFound) {
				i.logger.WithFields(log.Fields{"order_id": order.ID, "item_id": item.ID}).Warn("no file for purchased item")
				continue
			}
			return nil, err
		}
		url, err := i.signer.SignedURL(ctx, file.StorageKey, i.cfg.EmailLinkTTL)
		if err != nil {
			return nil, domain.UpstreamError("sign download url", err)
		}
		links = append(links, Link{URL: url, ExpiresIn: i.cfg.EmailLinkTTL, FileName: file.FileName, ItemID: item.ID})
	}
	return links, nil
}

func (i *Issuer) findOrder(ctx context.Context, ref, itemID string) (domain.Order, error) {
	if ref == "" {
		return i.orders.GetByItemID(ctx, itemID)
	}
	order, err := i.orders.Get(ctx, ref)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, err
	}
	return i.orders.GetByExternalID(ctx, ref)
}

func (i *Issuer) fileFor(ctx context.Context, item domain.OrderItem) (domain.File, error) {
	if item.VariationID != "" {
		file, err := i.catalog.FileForVariation(ctx, item.VariationID)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, domain.ErrFileNotFound) {
			return domain.File{}, fmt.Errorf("file for variation: %w", err)
		}
	}
	file, err := i.catalog.FileForProduct(ctx, item.ProductID)
	if err != nil && !errors.Is(err, domain.ErrFileNotFound) {
		return domain.File{}, fmt.Errorf("file for product: %w", err)
	}
	return file, err
}

// expired: окно строгое, ровно 30 дней после оплаты ещё можно скачать.
func (i *Issuer) expired(order domain.Order) bool {
	paidAt := order.UpdatedAt
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	return i.now().Sub(paidAt) > i.cfg.Window
}

func owns(order domain.Order, r Requester) bool {
	if r.UserID != "" && order.UserID != "" && r.UserID == order.UserID {
		return true
	}
	return r.Email != "" && strings.EqualFold(r.Email, strings.TrimSpace(order.Email))
}

func isPaid(order domain.Order) bool {
	if order.Status == domain.OrderStatusCompleted {
		return true
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus == "" {
		return false
	}
	return domain.MapPaymentStatus(order.Provider, order.PaymentStatus) == domain.OrderStatusCompleted
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "issued"
	case errors.Is(err, domain.ErrExpired):
		return "expired"
	case errors.Is(err, domain.ErrAuthorization), errors.Is(err, domain.ErrAuthentication):
		return "denied"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
