// Package notify отправляет покупателю письмо об оплаченном заказе.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/metrics"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/download"
)

// LinkSource подписывает ссылки на файлы заказа.
type LinkSource interface {
	LinksForOrder(ctx context.Context, order domain.Order) ([]download.Link, error)
}

// TimelineWriter добавляет событие в историю заказа.
type TimelineWriter interface {
	Timeline(ctx context.Context, orderID, eventType, reason string)
}

const subjectFormat = "Pedido %s confirmado"

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif">
<h2>{{.StoreName}}: pagamento confirmado</h2>
<p>Pedido <strong>{{.OrderID}}</strong>, total {{.Total}} {{.Currency}}.</p>
<table cellpadding="6">
{{range .Items}}<tr><td>{{.Name}}</td><td>{{.Quantity}} x {{.UnitPrice}}</td><td>{{if .URL}}<a href="{{.URL}}">Baixar {{.FileName}}</a>{{end}}</td></tr>
{{end}}</table>
<p>Os links expiram em {{.LinkMinutes}} minutos. Depois disso, gere novos links na sua conta por até {{.WindowDays}} dias.</p>
</body>
</html>
`))

type templateItem struct {
	Name      string
	Quantity  int32
	UnitPrice string
	URL       string
	FileName  string
}

type templateData struct {
	StoreName   string
	OrderID     string
	Total       string
	Currency    string
	Items       []templateItem
	LinkMinutes int
	WindowDays  int
}

// Config задаёт параметры письма.
type Config struct {
	StoreName  string
	WindowDays int
}

// Notifier формирует письмо со ссылками на файлы и отправляет его.
// Ошибки отправки возвращаются вызывающему, который их только логирует.
type Notifier struct {
	cfg      Config
	links    LinkSource
	mailer   domain.Mailer
	timeline TimelineWriter
	metrics  *metrics.PaymentMetrics
	logger   *log.Entry
}

// NewNotifier создаёт Notifier. timeline может быть nil.
func NewNotifier(cfg Config, links LinkSource, mailer domain.Mailer, timeline TimelineWriter, m *metrics.PaymentMetrics, logger *log.Entry) *Notifier {
	if logger == nil {
		logger = log.WithField("component", "notify")
	}
	if cfg.StoreName == "" {
		cfg.StoreName = "PDF Store"
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	return &Notifier{cfg: cfg, links: links, mailer: mailer, timeline: timeline, metrics: m, logger: logger}
}

// OrderPaid отправляет подтверждение. Заказ без email пропускается.
func (n *Notifier) OrderPaid(ctx context.Context, order domain.Order) error {
	if order.Email == "" {
		n.metrics.RecordEmail("skipped")
		n.logger.WithField("order_id", order.ID).Debug("order has no email, skipping confirmation")
		return nil
	}

	body, err := n.render(ctx, order)
	if err != nil {
		n.metrics.RecordEmail("failed")
		return fmt.Errorf("render confirmation: %w", err)
	}

	if err := n.mailer.Send(ctx, order.Email, fmt.Sprintf(subjectFormat, order.ID), body); err != nil {
		n.metrics.RecordEmail("failed")
		return fmt.Errorf("send confirmation: %w", err)
	}

	n.metrics.RecordEmail("sent")
	if n.timeline != nil {
		n.timeline.Timeline(ctx, order.ID, domain.TimelineConfirmationEmailSent, order.Email)
	}
	n.logger.WithField("order_id", order.ID).Info("confirmation email sent")
	return nil
}

func (n *Notifier) render(ctx context.Context, order domain.Order) (string, error) {
	links, err := n.links.LinksForOrder(ctx, order)
	if err != nil {
		return "", err
	}
	byItem := make(map[string]download.Link, len(links))
	linkMinutes := 0
	for _, link := range links {
		byItem[link.ItemID] = link
		linkMinutes = int(link.ExpiresIn.Minutes())
	}

	data := templateData{
		StoreName:   n.cfg.StoreName,
		OrderID:     order.ID,
		Total:       domain.FromMinor(order.TotalMinor).StringFixed(2),
		Currency:    order.Currency,
		LinkMinutes: linkMinutes,
		WindowDays:  n.cfg.WindowDays,
	}
	for _, item := range order.Items {
		link := byItem[item.ID]
		data.Items = append(data.Items, templateItem{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: domain.FromMinor(item.UnitPriceMinor).StringFixed(2),
			URL:       link.URL,
			FileName:  link.FileName,
		})
	}

	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
