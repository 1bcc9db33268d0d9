package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/bookstore-orderflow/internal/downloads"
	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
	"github.com/imrishuroy/bookstore-orderflow/internal/store"
)

type fakeBooks map[string]*orders.Book

func (f fakeBooks) GetBook(ctx context.Context, id string) (*orders.Book, error) {
	return f[id], nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type recordingCustomers struct {
	orders []*orders.Order
	err    error
}

func (r *recordingCustomers) Record(ctx context.Context, o *orders.Order) error {
	r.orders = append(r.orders, o)
	return r.err
}

func digitalOrder(items ...orders.LineItem) *orders.Order {
	return &orders.Order{
		ID:               "ref-d",
		PaymentReference: "ref-d",
		CustomerName:     "Ada",
		Email:            "ada@example.com",
		Items:            items,
		TotalAmount:      350000,
		Currency:         "NGN",
		PaymentStatus:    orders.PaymentPaid,
		ShippingStatus:   orders.ShippingDelivered,
		DeliveryMode:     orders.ModeDigital,
	}
}

func physicalOrder() *orders.Order {
	return &orders.Order{
		ID:               "ref-p",
		PaymentReference: "ref-p",
		CustomerName:     "Ada",
		Email:            "ada@example.com",
		Items:            []orders.LineItem{{BookID: "b2", Title: "Paper Book", Quantity: 2}},
		TotalAmount:      900000,
		Currency:         "NGN",
		PaymentStatus:    orders.PaymentPaid,
		ShippingStatus:   orders.ShippingProcessing,
		DeliveryMode:     orders.ModePhysical,
		ShippingAddress:  "1 Marina, Lagos",
	}
}

func TestDispatcher_DigitalSendsLinks(t *testing.T) {
	books := fakeBooks{
		"b1": {ID: "b1", Title: "Go eBook", DigitalFile: &orders.DigitalFile{ID: "f1", Name: "go.pdf", ObjectKey: "books/go.pdf"}},
	}
	mailer := &recordingMailer{}
	customers := &recordingCustomers{}
	issuer := downloads.NewIssuer("secret", "https://books.example.com")
	d := NewDispatcher(books, issuer, mailer, customers, nil)

	err := d.Fulfill(context.Background(), digitalOrder(orders.LineItem{BookID: "b1", Quantity: 1}))
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Contains(t, msg.HTML, "https://books.example.com/download/")
	assert.Contains(t, msg.HTML, "Go eBook")
	assert.Contains(t, msg.HTML, "NGN 3500.00")
	assert.Contains(t, msg.Text, "https://books.example.com/download/")
	assert.Len(t, customers.orders, 1)

	// the emailed link must verify and carry the order's claims
	start := strings.Index(msg.Text, "/download/") + len("/download/")
	token := strings.Fields(msg.Text[start:])[0]
	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ref-d", claims.OrderRef)
	assert.Equal(t, "f1", claims.FileID)
	assert.Equal(t, "b1", claims.BookID)
}

func TestDispatcher_DigitalMissingFile(t *testing.T) {
	mailer := &recordingMailer{}
	d := NewDispatcher(fakeBooks{"b1": {ID: "b1"}}, downloads.NewIssuer("secret", "https://x"), mailer, nil, nil)

	err := d.Fulfill(context.Background(), digitalOrder(orders.LineItem{BookID: "b1", Quantity: 1}))
	require.ErrorIs(t, err, ErrNoDigitalFile)
	assert.Empty(t, mailer.sent)

	// one good item still gets delivered alongside a broken one
	books := fakeBooks{
		"b1": {ID: "b1"},
		"b3": {ID: "b3", Title: "Other", DigitalFile: &orders.DigitalFile{ID: "f3", URL: "https://cdn/x.epub"}},
	}
	d = NewDispatcher(books, downloads.NewIssuer("secret", "https://x"), mailer, nil, nil)
	err = d.Fulfill(context.Background(), digitalOrder(
		orders.LineItem{BookID: "b1", Quantity: 1},
		orders.LineItem{BookID: "b3", Quantity: 1},
	))
	require.ErrorIs(t, err, ErrNoDigitalFile)
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].HTML, "Other")
}

func TestDispatcher_PhysicalSendsConfirmation(t *testing.T) {
	mailer := &recordingMailer{}
	customers := &recordingCustomers{err: errors.New("throttled")}
	d := NewDispatcher(fakeBooks{}, downloads.NewIssuer("secret", "https://x"), mailer, customers, nil)

	err := d.Fulfill(context.Background(), physicalOrder())
	require.NoError(t, err, "customer aggregate failures must not fail fulfillment")
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].HTML, "1 Marina, Lagos")
	assert.Contains(t, mailer.sent[0].HTML, "Paper Book")
	assert.Contains(t, mailer.sent[0].Subject, "ref-p")
}

func TestDispatcher_MailFailureReturned(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("ses down")}
	d := NewDispatcher(fakeBooks{}, downloads.NewIssuer("secret", "https://x"), mailer, nil, nil)
	require.Error(t, d.Fulfill(context.Background(), physicalOrder()))
}

func saveOrders(t *testing.T, mem *store.MemoryStore, list ...*orders.Order) {
	t.Helper()
	err := mem.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, o := range list {
			if err := tx.Create(orders.Key(o.PaymentReference), o); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCustomerAggregator(t *testing.T) {
	mem := store.NewMemoryStore(store.DefaultTxOptions())
	agg := NewCustomerAggregator(mem)
	agg.nowFunc = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ids := []string{"c1", "c2"}
	agg.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	ctx := context.Background()

	first := physicalOrder()
	second := digitalOrder(orders.LineItem{BookID: "b1", Quantity: 1})
	second.CustomerName = "Ada L."
	other := physicalOrder()
	other.ID, other.PaymentReference = "ref-g", "ref-g"
	other.Email = "grace@example.com"
	saveOrders(t, mem, first, second, other)

	require.NoError(t, agg.Record(ctx, first))
	require.NoError(t, agg.Record(ctx, second))

	assert.Equal(t, 1, mem.Count(orders.CollectionCustomers))
	var c orders.Customer
	found, err := mem.Get(ctx, orders.CustomerKey("c1"), &c)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), c.OrderCount)
	assert.Equal(t, int64(900000+350000), c.TotalSpent)
	assert.Equal(t, "Ada L.", c.Name)
	assert.Equal(t, "1 Marina, Lagos", c.Address, "digital orders keep the last known address")
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), c.JoinedAt)

	require.NoError(t, agg.Record(ctx, other))
	assert.Equal(t, 2, mem.Count(orders.CollectionCustomers))
}

func TestCustomerAggregator_UnknownOrder(t *testing.T) {
	mem := store.NewMemoryStore(store.DefaultTxOptions())
	agg := NewCustomerAggregator(mem)

	err := agg.Record(context.Background(), physicalOrder())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, mem.Count(orders.CollectionCustomers))
}

func TestDispatcher_RedeliveryCountsOrderOnce(t *testing.T) {
	mem := store.NewMemoryStore(store.DefaultTxOptions())
	o := physicalOrder()
	saveOrders(t, mem, o)

	agg := NewCustomerAggregator(mem)
	agg.newID = func() string { return "c1" }
	mailer := &recordingMailer{err: errors.New("ses throttled")}
	d := NewDispatcher(fakeBooks{}, nil, mailer, agg, nil)

	ctx := context.Background()
	for range 3 {
		require.Error(t, d.Fulfill(ctx, o))
	}

	var c orders.Customer
	found, err := mem.FindOne(ctx, orders.CollectionCustomers, "email", o.Email, &c)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), c.OrderCount)
	assert.Equal(t, o.TotalAmount, c.TotalSpent)

	var stored orders.Order
	_, err = mem.Get(ctx, orders.Key(o.PaymentReference), &stored)
	require.NoError(t, err)
	assert.True(t, stored.CustomerRecorded)
}

type recordingPublisher struct {
	body  string
	attrs map[string]string
	err   error
}

func (p *recordingPublisher) SendMessage(ctx context.Context, body string, attrs map[string]string) error {
	p.body = body
	p.attrs = attrs
	return p.err
}

func TestQueueDispatcher(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewQueueDispatcher(pub)

	require.NoError(t, q.Fulfill(context.Background(), physicalOrder()))
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(pub.body), &msg))
	assert.Equal(t, "ref-p", msg.Reference)
	assert.Equal(t, orders.ModePhysical, msg.DeliveryMode)
	assert.Equal(t, "ref-p", pub.attrs["reference"])

	pub.err = errors.New("queue gone")
	assert.Error(t, q.Fulfill(context.Background(), physicalOrder()))
}

type recordingSES struct {
	input *sesv2.SendEmailInput
}

func (r *recordingSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	r.input = in
	return &sesv2.SendEmailOutput{}, nil
}

func TestSESMailer(t *testing.T) {
	ses := &recordingSES{}
	m := NewSESMailer(ses, "orders@books.example.com")

	err := m.Send(context.Background(), Email{To: "ada@example.com", Subject: "Hi", HTML: "<p>x</p>", Text: "x"})
	require.NoError(t, err)

	require.NotNil(t, ses.input)
	assert.Equal(t, "orders@books.example.com", *ses.input.FromEmailAddress)
	assert.Equal(t, []string{"ada@example.com"}, ses.input.Destination.ToAddresses)
	assert.Equal(t, "Hi", *ses.input.Content.Simple.Subject.Data)
	assert.Equal(t, "<p>x</p>", *ses.input.Content.Simple.Body.Html.Data)
	assert.Equal(t, "x", *ses.input.Content.Simple.Body.Text.Data)
}
