package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
	"github.com/imrishuroy/bookstore-orderflow/internal/store"
)

const secret = "sk_test_webhook"

// countingStore records every call that reaches the store.
type countingStore struct {
	store.DocumentStore
	calls atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, key store.Key, out any) (bool, error) {
	c.calls.Add(1)
	return c.DocumentStore.Get(ctx, key, out)
}

func (c *countingStore) FindOne(ctx context.Context, collection, field, value string, out any) (bool, error) {
	c.calls.Add(1)
	return c.DocumentStore.FindOne(ctx, collection, field, value, out)
}

func (c *countingStore) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	c.calls.Add(1)
	return c.DocumentStore.RunTransaction(ctx, fn)
}

type recordingFulfiller struct {
	mu     sync.Mutex
	orders []*orders.Order
	err    error
}

func (f *recordingFulfiller) Fulfill(ctx context.Context, o *orders.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	return f.err
}

func (f *recordingFulfiller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type recordingCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *recordingCounter) Count(ctx context.Context, name string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[name] += n
}

func (c *recordingCounter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

type fixture struct {
	mem       *store.MemoryStore
	docs      *countingStore
	fulfiller *recordingFulfiller
	metrics   *recordingCounter
	rec       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opts := store.DefaultTxOptions()
	opts.MaxRetries = 50
	opts.InitialBackoff = time.Millisecond
	opts.MaxBackoff = 5 * time.Millisecond
	mem := store.NewMemoryStore(opts)
	f := &fixture{
		mem:       mem,
		docs:      &countingStore{DocumentStore: mem},
		fulfiller: &recordingFulfiller{},
		metrics:   &recordingCounter{},
	}
	f.rec = New(Config{
		Docs:          f.docs,
		WebhookSecret: secret,
		Fulfiller:     f.fulfiller,
		Metrics:       f.metrics,
	})
	f.rec.nowFunc = func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }
	return f
}

func (f *fixture) seedBook(t *testing.T, b orders.Book) {
	t.Helper()
	require.NoError(t, f.mem.Put(orders.BookKey(b.ID), b))
}

func (f *fixture) stock(t *testing.T, bookID string) int64 {
	t.Helper()
	var b orders.Book
	found, err := f.mem.Get(context.Background(), orders.BookKey(bookID), &b)
	require.NoError(t, err)
	require.True(t, found)
	return b.Stock
}

func webhookBody(t *testing.T, event, ref string, md map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"data": map[string]any{
			"reference": ref,
			"amount":    500000,
			"currency":  "NGN",
			"status":    "success",
			"customer":  map[string]any{"email": "a@x.com", "first_name": "A"},
			"metadata":  md,
		},
	})
	require.NoError(t, err)
	return body
}

func physicalMeta(qty string) map[string]any {
	return map[string]any{
		"bookId":         "b1",
		"purchaseFormat": "physical",
		"quantity":       qty,
		"email":          "a@x.com",
		"name":           "A",
	}
}

func TestHandleWebhook_CreatesOrderAndReplaysAsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.seedBook(t, orders.Book{ID: "b1", Title: "Go in Practice", Stock: 5})
	ctx := context.Background()

	body := webhookBody(t, paystack.EventChargeSuccess, "ref123", physicalMeta("2"))
	sig := paystack.Sign(secret, body)

	res, err := f.rec.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	require.NotNil(t, res.Order)
	assert.Equal(t, "ref123", res.Order.ID)
	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, 2, res.Order.Items[0].Quantity)
	assert.Equal(t, "Go in Practice", res.Order.Items[0].Title)
	assert.Equal(t, orders.ShippingProcessing, res.Order.ShippingStatus)
	assert.Equal(t, orders.PaymentPaid, res.Order.PaymentStatus)
	assert.Equal(t, orders.ModePhysical, res.Order.DeliveryMode)
	assert.Equal(t, "2026-10-15T09:30:00Z", res.Order.CreatedAt)
	assert.Equal(t, int64(3), f.stock(t, "b1"))

	for i := 0; i < 3; i++ {
		res, err = f.rec.HandleWebhook(ctx, body, sig)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, res.Outcome)
	}
	assert.Equal(t, int64(3), f.stock(t, "b1"))
	assert.Equal(t, 1, f.mem.Count(orders.CollectionOrders))
	assert.Equal(t, 1, f.fulfiller.count(), "replays must not re-dispatch fulfillment")
	assert.Equal(t, 1, f.metrics.get(MetricOrderCreated))
	assert.Equal(t, 3, f.metrics.get(MetricOrderDuplicate))
}

func TestHandleWebhook_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	f.seedBook(t, orders.Book{ID: "b1", Stock: 5})

	body := webhookBody(t, paystack.EventChargeSuccess, "ref-race", physicalMeta("2"))
	sig := paystack.Sign(secret, body)

	const workers = 8
	var wg sync.WaitGroup
	var created, duplicates atomic.Int64
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.rec.HandleWebhook(context.Background(), body, sig)
			if err != nil {
				errs <- err
				return
			}
			switch res.Outcome {
			case OutcomeCreated:
				created.Add(1)
			case OutcomeDuplicate:
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, int64(workers-1), duplicates.Load())
	assert.Equal(t, int64(3), f.stock(t, "b1"))
	assert.Equal(t, 1, f.mem.Count(orders.CollectionOrders))
}

func TestHandleWebhook_DifferentReferencesShareStock(t *testing.T) {
	f := newFixture(t)
	f.seedBook(t, orders.Book{ID: "b1", Stock: 3})

	var wg sync.WaitGroup
	var created, rejected atomic.Int64
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := "ref-" + string(rune('a'+i))
			body := webhookBody(t, paystack.EventChargeSuccess, ref, physicalMeta("1"))
			_, err := f.rec.HandleWebhook(context.Background(), body, paystack.Sign(secret, body))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(3), created.Load())
	assert.Equal(t, int64(3), rejected.Load())
	assert.Equal(t, int64(0), f.stock(t, "b1"))
}

func TestHandleWebhook_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.seedBook(t, orders.Book{ID: "b1", Stock: 1})

	body := webhookBody(t, paystack.EventChargeSuccess, "ref-big", physicalMeta("2"))
	_, err := f.rec.HandleWebhook(context.Background(), body, paystack.Sign(secret, body))
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, int64(1), f.stock(t, "b1"))
	assert.Equal(t, 0, f.mem.Count(orders.CollectionOrders))
	assert.Equal(t, 0, f.fulfiller.count())
	assert.Equal(t, 1, f.metrics.get(MetricInsufficientStock))
}

func TestHandleWebhook_BookNotFound(t *testing.T) {
	f := newFixture(t)

	body := webhookBody(t, paystack.EventChargeSuccess, "ref-missing", physicalMeta("1"))
	_, err := f.rec.HandleWebhook(context.Background(), body, paystack.Sign(secret, body))
	require.ErrorIs(t, err, ErrBookNotFound)
	assert.Equal(t, 0, f.mem.Count(orders.CollectionOrders))
	assert.Equal(t, 1, f.metrics.get(MetricBookNotFound))
}

func TestHandleWebhook_DigitalPinsQuantity(t *testing.T) {
	f := newFixture(t)
	f.seedBook(t, orders.Book{ID: "b1", Title: "Go eBook", Stock: 2})

	md := map[string]any{
		"bookId":         "b1",
		"purchaseFormat": "digital",
		"quantity":       "5",
		"email":          "A@X.com",
		"name":           "A",
		"address":        "ignored for downloads",
	}
	body := webhookBody(t, paystack.EventChargeSuccess, "ref-digital", md)
	res, err := f.rec.HandleWebhook(context.Background(), body, paystack.Sign(secret, body))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Order.Items[0].Quantity)
	assert.Equal(t, "Go eBook", res.Order.Items[0].Title)
	assert.Equal(t, orders.ModeDigital, res.Order.DeliveryMode)
	assert.Equal(t, orders.ShippingDelivered, res.Order.ShippingStatus)
	assert.Empty(t, res.Order.ShippingAddress)
	assert.Equal(t, "a@x.com", res.Order.Email)
	assert.Equal(t, int64(2), f.stock(t, "b1"), "digital orders never touch stock")
}

func TestHandleWebhook_DigitalWithoutCatalogEntry(t *testing.T) {
	f := newFixture(t)

	md := map[string]any{"bookId": "gone", "purchaseFormat": "ebook", "title": "From Checkout"}
	body := webhookBody(t, paystack.EventChargeSuccess, "ref-d2", md)
	res, err := f.rec.HandleWebhook(context.Background(), body, paystack.Sign(secret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "From Checkout", res.Order.Items[0].Title)
	assert.Equal(t, "A", res.Order.CustomerName, "falls back to provider customer")
}

func TestHandleWebhook_SignatureRejectedBeforeStoreAccess(t *testing.T) {
	f := newFixture(t)
	f.seedBook(t, orders.Book{ID: "b1", Stock: 5})

	body := webhookBody(t, paystack.EventChargeSuccess, "ref123", physicalMeta("1"))
	sig := paystack.Sign(secret, body)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)/2] ^= 0x01

	cases := map[string]struct {
		body []byte
		sig  string
	}{
		"tampered body": {tampered, sig},
		"wrong secret":  {body, paystack.Sign("not-the-secret", body)},
		"missing":       {body, ""},
		"garbage":       {body, "zz-not-hex"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.rec.HandleWebhook(context.Background(), tc.body, tc.sig)
			require.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
	assert.Equal(t, int64(0), f.docs.calls.Load())
	assert.Equal(t, int64(5), f.stock(t, "b1"))
	assert.Equal(t, len(cases), f.metrics.get(MetricSignatureRejected))
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)

	body := webhookBody(t, "transfer.success", "ref-x", physicalMeta("1"))
	res, err := f.rec.HandleWebhook(context.Background(), body, paystack.Sign(secret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, int64(0), f.docs.calls.Load())
}

func TestHandleWebhook_Validation(t *testing.T) {
	f := newFixture(t)
	f.seedBook(t, orders.Book{ID: "b1", Stock: 5})

	cases := map[string][]byte{
		"missing reference": webhookBody(t, paystack.EventChargeSuccess, "", physicalMeta("1")),
		"missing book":      webhookBody(t, paystack.EventChargeSuccess, "ref-v1", map[string]any{"name": "A"}),
		"unknown format": webhookBody(t, paystack.EventChargeSuccess, "ref-v2", map[string]any{
			"bookId": "b1", "purchaseFormat": "audiobook",
		}),
		"malformed json": []byte(`{"event": "charge.success", "data": `),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.rec.HandleWebhook(context.Background(), body, paystack.Sign(secret, body))
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	noIdentity := paystack.Charge{Reference: "ref-v3", Metadata: paystack.Metadata{BookID: "b1"}}
	_, err := f.rec.Reconcile(context.Background(), noIdentity)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "email")
	assert.Contains(t, err.Error(), "name")

	assert.Equal(t, 0, f.mem.Count(orders.CollectionOrders))
	assert.Equal(t, int64(5), f.stock(t, "b1"))
}

func TestReconcile_FulfillmentFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.seedBook(t, orders.Book{ID: "b1", Stock: 5})
	f.fulfiller.err = errors.New("smtp down")

	charge := paystack.Charge{
		Reference: "ref-ff",
		Amount:    250000,
		Customer:  paystack.Customer{Email: "b@x.com", FirstName: "B"},
		Metadata:  paystack.Metadata{BookID: "b1", Quantity: "1"},
	}
	res, err := f.rec.Reconcile(context.Background(), charge)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	require.Error(t, res.FulfillmentErr)
	assert.Equal(t, 1, f.metrics.get(MetricFulfillmentFailed))

	var stored orders.Order
	found, err := f.mem.Get(context.Background(), orders.Key("ref-ff"), &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(250000), stored.TotalAmount)
	assert.Equal(t, int64(4), f.stock(t, "b1"))
}
