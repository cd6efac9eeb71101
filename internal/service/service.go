package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/notify"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

var tracer = otel.Tracer("github.com/egannguyen/go-kafka-ecommerce/storefront/internal/service")

// Caller is the authenticated user behind a request.
type Caller struct {
	UserID string
	Email  string
	Admin  bool
}

// owns reports whether c may see an order owned by userID.
func (c Caller) owns(userID string) bool {
	return c.Admin || c.UserID == userID
}

// Dispatcher delivers side-effect intents after their transaction committed.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgs []entity.OutboxMessage)
}

var (
	// errNoop aborts a unit of work that found nothing to do.
	errNoop = errors.New("transition already applied")
	// errOrderClosed aborts a payment completion for an order that can no
	// longer be paid.
	errOrderClosed = errors.New("order is closed")
)

// unitOfWork runs a transition and its outbox writes in one transaction and
// dispatches the side effects once it committed. The order row is locked
// first so history versions on one order never collide.
type unitOfWork struct {
	store      repository.Store
	dispatcher Dispatcher
}

func (u unitOfWork) run(ctx context.Context, orderID string, fn func(tx repository.Store, b *notify.Batch) error) error {
	b := notify.NewBatch(orderID)
	err := u.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Orders().Lock(ctx, orderID); err != nil {
			return err
		}
		if err := fn(tx, b); err != nil {
			return err
		}
		return b.Save(ctx, tx.Outbox())
	})
	if err != nil {
		return err
	}
	// delivery must not be cut short by the caller going away
	u.dispatcher.Dispatch(context.WithoutCancel(ctx), b.Messages())
	return nil
}

func appendHistory(ctx context.Context, tx repository.Store, orderID string, events ...entity.Event) error {
	if err := tx.Events().SaveEvents(ctx, orderID, entity.StreamOrder, -1, events); err != nil {
		return fmt.Errorf("failed to append order history: %w", err)
	}
	return nil
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
