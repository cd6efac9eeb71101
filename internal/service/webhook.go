package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/apperr"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/cache"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/gateway"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

// Webhook event names sent by the gateway.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventRefundProcessed = "refund.processed"
)

const envelopeSchema = `{
	"type": "object",
	"required": ["event", "payload"],
	"properties": {
		"event": {"type": "string", "minLength": 1},
		"payload": {
			"type": "object",
			"properties": {
				"payment": {
					"type": "object",
					"properties": {
						"entity": {
							"type": "object",
							"properties": {
								"id": {"type": "string"},
								"order_id": {"type": "string"},
								"amount": {"type": "integer"}
							}
						}
					}
				},
				"refund": {
					"type": "object",
					"properties": {
						"entity": {
							"type": "object",
							"properties": {
								"id": {"type": "string"},
								"payment_id": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`

var webhookSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid webhook schema: %v", err))
	}
	return s
}()

type webhookPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorDescription string `json:"error_description"`
}

type webhookRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity webhookPayment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity webhookRefund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// WebhookDeduplicator remembers delivery ids that were already processed.
// It is only a fast path; the conditional updates stay authoritative.
type WebhookDeduplicator interface {
	Seen(ctx context.Context, deliveryID string) (bool, error)
	Remember(ctx context.Context, deliveryID string) error
}

type cacheDeduplicator struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewCacheDeduplicator keeps processed delivery ids in c for ttl.
func NewCacheDeduplicator(c cache.Cache, ttl time.Duration) WebhookDeduplicator {
	return &cacheDeduplicator{cache: c, ttl: ttl}
}

func (d *cacheDeduplicator) Seen(ctx context.Context, deliveryID string) (bool, error) {
	v, err := d.cache.Get(ctx, d.cache.GenerateKey("webhook", deliveryID))
	if err != nil {
		return false, err
	}
	return v != "", nil
}

func (d *cacheDeduplicator) Remember(ctx context.Context, deliveryID string) error {
	return d.cache.Set(ctx, d.cache.GenerateKey("webhook", deliveryID), "1", d.ttl)
}

// HandleWebhook processes one gateway delivery. It returns SignatureMismatch
// for unauthenticated bodies and an error only when the delivery should be
// retried. Malformed and unknown events are acknowledged.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature, deliveryID string) (err error) {
	ctx, span := startSpan(ctx, "PaymentService.HandleWebhook")
	defer func() { endSpan(span, err) }()

	if signature == "" || !gateway.VerifyWebhook(s.cfg.WebhookSecret, body, signature) {
		s.logger.WarnContext(ctx, "webhook signature mismatch", "delivery_id", deliveryID)
		return apperr.SignatureMismatch()
	}

	if deliveryID == "" {
		sum := sha256.Sum256(body)
		deliveryID = hex.EncodeToString(sum[:])
	}
	if s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, deliveryID)
		if err != nil {
			s.logger.WarnContext(ctx, "webhook dedup lookup failed", "delivery_id", deliveryID, "error", err)
		}
		if seen {
			s.logger.InfoContext(ctx, "webhook already processed", "delivery_id", deliveryID)
			return nil
		}
	}

	result, err := webhookSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		s.logger.WarnContext(ctx, "webhook body is not JSON, acknowledging", "delivery_id", deliveryID, "error", err)
		return nil
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		s.logger.WarnContext(ctx, "malformed webhook envelope, acknowledging", "delivery_id", deliveryID,
			"problems", strings.Join(problems, "; "))
		return nil
	}
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.logger.WarnContext(ctx, "failed to decode webhook envelope, acknowledging", "delivery_id", deliveryID, "error", err)
		return nil
	}

	s.logger.InfoContext(ctx, "webhook received", "event", env.Event, "delivery_id", deliveryID)
	switch env.Event {
	case EventPaymentCaptured:
		err = s.onPaymentCaptured(ctx, env, signature)
	case EventPaymentFailed:
		err = s.onPaymentFailed(ctx, env)
	case EventRefundProcessed:
		err = s.onRefundProcessed(ctx, env)
	default:
		s.logger.InfoContext(ctx, "ignoring webhook event", "event", env.Event)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "webhook processing failed", "event", env.Event, "delivery_id", deliveryID, "error", err)
		return err
	}

	if s.dedup != nil {
		if err := s.dedup.Remember(ctx, deliveryID); err != nil {
			s.logger.WarnContext(ctx, "failed to remember webhook delivery", "delivery_id", deliveryID, "error", err)
		}
	}
	return nil
}

// lookupIntent resolves a webhook payment to our intent and order. A nil
// intent with a nil error means the payment is not ours.
func (s *PaymentService) lookupIntent(ctx context.Context, gatewayOrderID string) (*intentWithOrder, error) {
	intent, err := s.store.Payments().GetByGatewayOrderID(ctx, gatewayOrderID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.WarnContext(ctx, "webhook for unknown gateway order", "gateway_order_id", gatewayOrderID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}
	order, err := s.store.Orders().Get(ctx, intent.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return &intentWithOrder{intent: intent, order: order}, nil
}

func (s *PaymentService) onPaymentCaptured(ctx context.Context, env webhookEnvelope, signature string) error {
	if env.Payload.Payment == nil || env.Payload.Payment.Entity.OrderID == "" || env.Payload.Payment.Entity.ID == "" {
		s.logger.WarnContext(ctx, "payment.captured without payment entity, acknowledging")
		return nil
	}
	p := env.Payload.Payment.Entity
	found, err := s.lookupIntent(ctx, p.OrderID)
	if err != nil || found == nil {
		return err
	}
	if captured := entity.FromMinor(p.Amount); p.Amount != 0 && !captured.Equal(found.intent.Amount) {
		s.logger.WarnContext(ctx, "captured amount differs from intent", "order_id", found.order.ID,
			"captured", captured.StringFixed(2), "expected", found.intent.Amount.StringFixed(2))
	}
	_, err = s.complete(ctx, found.intent, found.order, repository.IntentCompletion{
		GatewayPaymentID: p.ID,
		Signature:        signature,
		Method:           p.Method,
	}, SourceWebhook)
	return err
}

func (s *PaymentService) onPaymentFailed(ctx context.Context, env webhookEnvelope) error {
	if env.Payload.Payment == nil || env.Payload.Payment.Entity.OrderID == "" {
		s.logger.WarnContext(ctx, "payment.failed without payment entity, acknowledging")
		return nil
	}
	p := env.Payload.Payment.Entity
	found, err := s.lookupIntent(ctx, p.OrderID)
	if err != nil || found == nil {
		return err
	}
	_, err = s.fail(ctx, found.intent, found.order, p.ID, p.ErrorDescription)
	return err
}

func (s *PaymentService) onRefundProcessed(ctx context.Context, env webhookEnvelope) error {
	if env.Payload.Refund == nil || env.Payload.Refund.Entity.PaymentID == "" {
		s.logger.WarnContext(ctx, "refund.processed without refund entity, acknowledging")
		return nil
	}
	if s.refunds == nil {
		return nil
	}
	_, err := s.refunds.CompleteByPayment(ctx, env.Payload.Refund.Entity.PaymentID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.WarnContext(ctx, "refund.processed for unknown refund", "payment_id", env.Payload.Refund.Entity.PaymentID)
		return nil
	}
	return err
}

type intentWithOrder struct {
	intent *entity.PaymentIntent
	order  *entity.Order
}
