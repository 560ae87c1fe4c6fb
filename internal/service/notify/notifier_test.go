package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/download"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/notify"
)

type sentMail struct {
	to, subject, html string
}

type recordingMailer struct {
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, html string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, html: html})
	return nil
}

type staticLinks []download.Link

func (l staticLinks) LinksForOrder(context.Context, domain.Order) ([]download.Link, error) {
	return l, nil
}

func paidOrder(email string) domain.Order {
	return domain.Order{
		ID:         "ord-1",
		Email:      email,
		Currency:   "BRL",
		TotalMinor: 9000,
		Items: []domain.OrderItem{
			{ID: "item-1", Name: "Go <Patterns>", Quantity: 1, UnitPriceMinor: 9000, TotalMinor: 9000},
		},
	}
}

func TestOrderPaid_SendsLinks(t *testing.T) {
	mailer := &recordingMailer{}
	links := staticLinks{{ItemID: "item-1", URL: "https://files.test/a.pdf?sig=1&x=2", FileName: "a.pdf", ExpiresIn: time.Hour}}
	n := notify.NewNotifier(notify.Config{StoreName: "Loja"}, links, mailer, nil, nil, nil)

	require.NoError(t, n.OrderPaid(context.Background(), paidOrder("buyer@example.com")))
	require.Len(t, mailer.sent, 1)

	mail := mailer.sent[0]
	assert.Equal(t, "buyer@example.com", mail.to)
	assert.Equal(t, "Pedido ord-1 confirmado", mail.subject)
	assert.Contains(t, mail.html, "90.00 BRL")
	assert.Contains(t, mail.html, "Go &lt;Patterns&gt;")
	assert.Contains(t, mail.html, `href="https://files.test/a.pdf?sig=1&amp;x=2"`)
	assert.Contains(t, mail.html, "60 minutos")
}

func TestOrderPaid_SkipsWithoutEmail(t *testing.T) {
	mailer := &recordingMailer{}
	n := notify.NewNotifier(notify.Config{}, staticLinks{}, mailer, nil, nil, nil)

	require.NoError(t, n.OrderPaid(context.Background(), paidOrder("")))
	assert.Empty(t, mailer.sent)
}

func TestOrderPaid_ReturnsMailerError(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	n := notify.NewNotifier(notify.Config{}, staticLinks{}, mailer, nil, nil, nil)

	err := n.OrderPaid(context.Background(), paidOrder("buyer@example.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}
