package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderSink is an append-only row writer.
type OrderSink interface {
	Append(ctx context.Context, rec OrderRecord) error
}

// Notifier is told about every order whose rows were all written.
type Notifier interface {
	OrderPlaced(ctx context.Context, receipt Receipt)
}

// Receipt describes the outcome of a finalization attempt. Rows written
// before a failure stay written; Written says how many.
type Receipt struct {
	OrderID string
	Total   decimal.Decimal
	Records []OrderRecord
	Written int
	Err     error
}

func (r Receipt) Failed() bool {
	return r.Err != nil
}

// Notice is the user-facing outcome message.
func (r Receipt) Notice() string {
	if r.Failed() {
		return fmt.Sprintf(msgSaveFailed, r.OrderID)
	}
	return fmt.Sprintf(msgOrderPlaced, r.OrderID, formatMoney(r.Total))
}

type Finalizer struct {
	sink      OrderSink
	logger    *zap.Logger
	timeout   time.Duration
	notifier  Notifier
	observers []func(Receipt)
}

type FinalizerOption func(*Finalizer)

// WithSinkTimeout bounds the whole append loop of one order.
func WithSinkTimeout(d time.Duration) FinalizerOption {
	return func(f *Finalizer) { f.timeout = d }
}

func WithNotifier(n Notifier) FinalizerOption {
	return func(f *Finalizer) { f.notifier = n }
}

// WithObserver registers a callback run after every attempt, failed or not.
func WithObserver(fn func(Receipt)) FinalizerOption {
	return func(f *Finalizer) { f.observers = append(f.observers, fn) }
}

func NewFinalizer(sink OrderSink, logger *zap.Logger, opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{
		sink:    sink,
		logger:  logger,
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize writes one record per line item to the sink, in item order. The
// returned error is only set when the draft breaks the finalization
// invariant; sink failures are reported through Receipt.Err.
func (f *Finalizer) Finalize(ctx context.Context, d *Draft) (Receipt, error) {
	if err := d.Ready(); err != nil {
		return Receipt{}, fmt.Errorf("finalize order %s: %w", d.OrderID, err)
	}

	records := RecordsFor(d)
	total := decimal.Zero
	for _, rec := range records {
		total = total.Add(rec.Subtotal())
	}

	receipt := Receipt{
		OrderID: d.OrderID,
		Total:   total,
		Records: records,
	}

	appendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	for i, rec := range records {
		if err := f.sink.Append(appendCtx, rec); err != nil {
			receipt.Err = fmt.Errorf("append row %d of %d: %w", i+1, len(records), err)
			break
		}
		receipt.Written++
	}

	if receipt.Failed() {
		f.logger.Error("Failed to persist order",
			zap.String("order_id", receipt.OrderID),
			zap.Int("rows_written", receipt.Written),
			zap.Int("rows_total", len(records)),
			zap.Error(receipt.Err))
	} else {
		f.logger.Info("Order persisted",
			zap.String("order_id", receipt.OrderID),
			zap.Int("rows", len(records)),
			zap.String("total", total.StringFixed(2)))
		if f.notifier != nil {
			f.notifier.OrderPlaced(ctx, receipt)
		}
	}

	for _, observe := range f.observers {
		observe(receipt)
	}
	return receipt, nil
}
