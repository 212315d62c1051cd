// Package webhook receives inbound third-party events, derives tenant
// context from the external account back-reference, and dispatches each
// event into the same tenant-scoped store path that authenticated requests
// use. Events that cannot be resolved to a local tenant are recorded and
// dead-lettered, never guessed at and never retried forever.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/gannetcloud/tenantd/internal/store"
	"github.com/gannetcloud/tenantd/internal/telemetry"
	"github.com/gannetcloud/tenantd/internal/tenant"
)

// Errors returned by event processing.
var (
	// ErrInvalidSignature indicates the payload signature did not verify.
	ErrInvalidSignature = errors.New("webhook signature verification failed")

	// ErrMalformedPayload indicates the payload could not be parsed or is
	// missing the external account reference.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// maxStoreRetries bounds retries of transient store failures during event
// recording. Resolution failures are never retried; an event that doesn't
// resolve now won't resolve in five seconds either.
const maxStoreRetries = 4

// envelope is the provider-agnostic shape we require of inbound payloads.
// The account field carries the provider's customer id, which is the only
// tenant identifier a webhook has.
type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Account string `json:"account"`
}

// Handler applies a resolved event inside its tenant context. The context
// passed to HandleEvent carries the webhook-derived tenant, so every store
// call the handler makes is subject to the same isolation guards as an
// authenticated request.
type Handler interface {
	HandleEvent(ctx context.Context, event *models.WebhookEvent) error
}

// Resolver is the tenant resolution dependency of the processor.
type Resolver interface {
	ResolveExternalAccount(ctx context.Context, provider, providerAccountID string) (*tenant.Tenant, error)
}

// Processor drives inbound events through verification, idempotent
// recording, tenant resolution and handling.
type Processor struct {
	events   store.WebhookEventStore
	resolver Resolver
	handler  Handler
	secret   []byte
}

// NewProcessor creates a webhook processor. handler may be nil, in which
// case resolved events are recorded as processed without side effects.
func NewProcessor(events store.WebhookEventStore, resolver Resolver, handler Handler, secret []byte) *Processor {
	return &Processor{
		events:   events,
		resolver: resolver,
		handler:  handler,
		secret:   secret,
	}
}

// Fingerprint returns the idempotency key for a payload: the base58-encoded
// SHA-256 of the raw bytes. Provider retries deliver identical bytes and
// therefore identical fingerprints.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base58.Encode(sum[:])
}

// Process handles one inbound event end to end. It returns the recorded
// event; the event's Status field reports the outcome. An error is returned
// only for signature failures and infrastructure problems, not for
// unresolvable events, which are dead-lettered by design.
func (p *Processor) Process(ctx context.Context, provider string, payload []byte, signature string) (*models.WebhookEvent, error) {
	if !VerifySignature(p.secret, payload, signature) {
		log.Warn().
			Str("provider", provider).
			Msg("Rejected webhook with invalid signature")
		return nil, ErrInvalidSignature
	}

	eventID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate event id: %w", err)
	}

	event := &models.WebhookEvent{
		EventID:        eventID,
		Provider:       provider,
		Fingerprint:    Fingerprint(payload),
		Payload:        payload,
		SignatureValid: true,
		Status:         models.WebhookEventReceived,
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err == nil {
		event.ProviderEventID = env.ID
		event.EventType = env.Type
	}

	telemetry.GetMetrics().WebhookReceivedTotal.Add(ctx, 1)

	created, existing, err := p.recordWithRetry(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !created {
		telemetry.GetMetrics().WebhookDuplicateTotal.Add(ctx, 1)
		// Duplicate delivery; report the original outcome and do nothing.
		log.Debug().
			Str("event_id", existing.EventID.String()).
			Str("fingerprint", existing.Fingerprint).
			Str("status", string(existing.Status)).
			Msg("Duplicate webhook delivery")
		return existing, nil
	}

	return p.dispatch(ctx, event, env)
}

// dispatch resolves tenant context for a freshly recorded event and hands it
// to the handler. Failures are recorded on the event rather than returned:
// the provider already got its acknowledgement when the event was recorded.
func (p *Processor) dispatch(ctx context.Context, event *models.WebhookEvent, env envelope) (*models.WebhookEvent, error) {
	if env.Account == "" {
		return p.finish(ctx, event, models.WebhookEventDiscarded, nil, ErrMalformedPayload)
	}

	t, err := p.resolver.ResolveExternalAccount(ctx, event.Provider, env.Account)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrUnresolved):
			// No local account. Log, dead-letter for manual review, and
			// acknowledge; retrying cannot make the account appear.
			log.Warn().
				Str("event_id", event.EventID.String()).
				Str("provider", event.Provider).
				Str("account", env.Account).
				Msg("Webhook event unresolvable, dead-lettering")
			return p.finish(ctx, event, models.WebhookEventDeadLettered, nil, err)
		case errors.Is(err, tenant.ErrOrganizationCancelled):
			return p.finish(ctx, event, models.WebhookEventDiscarded, nil, err)
		default:
			return p.finish(ctx, event, models.WebhookEventDeadLettered, nil, err)
		}
	}

	event.ResolvedOrgID = &t.OrgID

	if p.handler != nil {
		// The handler runs under the webhook-derived tenant context; its
		// store calls go through the same enforcement path as everyone else's.
		if err := p.handler.HandleEvent(tenant.WithTenant(ctx, t), event); err != nil {
			return p.finish(ctx, event, models.WebhookEventDeadLettered, &t.OrgID, err)
		}
	}

	return p.finish(ctx, event, models.WebhookEventProcessed, &t.OrgID, nil)
}

func (p *Processor) finish(ctx context.Context, event *models.WebhookEvent, status models.WebhookEventStatus, orgID *uuid.UUID, outcome error) (*models.WebhookEvent, error) {
	switch status {
	case models.WebhookEventDiscarded:
		telemetry.GetMetrics().WebhookDiscardedTotal.Add(ctx, 1)
	case models.WebhookEventDeadLettered:
		telemetry.GetMetrics().WebhookDeadLetteredTotal.Add(ctx, 1)
	}

	if err := p.events.MarkProcessed(ctx, event.EventID, status, orgID, outcome); err != nil {
		return nil, fmt.Errorf("failed to record webhook outcome: %w", err)
	}

	event.Status = status
	event.ResolvedOrgID = orgID
	if outcome != nil {
		event.Error = outcome.Error()
	}

	return event, nil
}

// recordWithRetry retries transient store failures with exponential backoff,
// bounded by maxStoreRetries. Context cancellation stops retrying.
func (p *Processor) recordWithRetry(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	type result struct {
		created  bool
		existing *models.WebhookEvent
	}

	res, err := backoff.Retry(ctx, func() (result, error) {
		created, existing, err := p.events.Record(ctx, event)
		if err != nil {
			return result{}, err
		}
		return result{created: created, existing: existing}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxStoreRetries),
		backoff.WithMaxElapsedTime(10*time.Second),
	)
	if err != nil {
		return false, nil, err
	}

	return res.created, res.existing, nil
}

// BatchResult reports the outcome of one event in a batch.
type BatchResult struct {
	Event *models.WebhookEvent
	Err   error
}

// ProcessBatch processes a batch of events concurrently. Events are fully
// independent: one organization's failing event never blocks, delays or
// fails another's. The returned slice is index-aligned with the input.
func (p *Processor) ProcessBatch(ctx context.Context, provider string, payloads [][]byte, signatures []string) []BatchResult {
	results := make([]BatchResult, len(payloads))

	g, ctx := errgroup.WithContext(ctx)
	for i := range payloads {
		g.Go(func() error {
			event, err := p.Process(ctx, provider, payloads[i], signatures[i])
			results[i] = BatchResult{Event: event, Err: err}
			// Errors are reported per-event, never propagated to the group;
			// propagation would cancel sibling events.
			return nil
		})
	}
	_ = g.Wait()

	return results
}
