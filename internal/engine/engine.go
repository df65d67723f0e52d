// Package engine implements the SessionEngine: the orchestrator that owns
// the RecordStore and Timer set, handles inbound start/stop messages, and
// runs the periodic manifest cycle. It is the ~35% of the system spec.md
// calls "virtually all the design thought" — everything else is plumbing
// around this.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/pi/internal/clock"
	"github.com/snarg/pi/internal/metrics"
	"github.com/snarg/pi/internal/model"
	"github.com/snarg/pi/internal/store"
	"github.com/snarg/pi/internal/timerset"
	"github.com/snarg/pi/internal/transport"
)

const (
	startKey         = "start"
	stopKey          = "stop"
	manifestTimerKey = "manifest"
)

// Config carries the tunables the engine needs, independent of how they
// were loaded (so tests can construct one without touching config.Config).
type Config struct {
	ConsumerBindings transport.Bindings
	RefreshTime      int64
	ManifestSize     int
	CooldownTime     int64
	ActiveTime       int64
	PublishExchange  string
	PublishKey       string
}

// Engine is the SessionEngine.
type Engine struct {
	store     store.Store
	transport transport.Transport
	timers    *timerset.Set
	clock     clock.Clock
	cfg       Config
	log       zerolog.Logger
}

// New constructs an Engine. The timer set is created here, bound to clock,
// so Run and direct test calls to PublishManifest share the same notion of
// now.
func New(st store.Store, tr transport.Transport, c clock.Clock, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		store:     st,
		transport: tr,
		timers:    timerset.New(c),
		clock:     c,
		cfg:       cfg,
		log:       log.With().Str("component", "engine").Logger(),
	}
}

// Run declares the consumer/publisher topology, registers the manifest
// timer, and enters the consume loop. It returns only on transport
// termination or an unrecoverable error; callers should exit the process
// non-zero on a non-nil return (spec.md §6's process exit code policy).
func (e *Engine) Run(ctx context.Context) error {
	if err := e.transport.InitConsumer(ctx, e.cfg.ConsumerBindings); err != nil {
		return &TransportError{Op: "init_consumer", Err: err}
	}
	if err := e.transport.InitPublisher(ctx, e.cfg.PublishExchange); err != nil {
		return &TransportError{Op: "init_publisher", Err: err}
	}

	e.timers.Add(manifestTimerKey, e.cfg.RefreshTime, func() error {
		return e.PublishManifest(ctx)
	})
	defer e.timers.Delete(manifestTimerKey)
	defer e.transport.Stop()

	err := e.transport.Consume(ctx, e.cfg.ConsumerBindings.InputQueue, e.Handle, e.tick)
	if err != nil && ctx.Err() != nil {
		// Cancellation is the documented shutdown path, not a failure.
		return nil
	}
	if err != nil {
		return &TransportError{Op: "consume", Err: err}
	}
	return nil
}

func (e *Engine) tick(ctx context.Context) error {
	if err := e.timers.Tick(); err != nil {
		return &TimerCallbackError{Err: err}
	}
	return nil
}

// Handle is the per-message callback: routing-key dispatch, header
// validation, and the start/stop lifecycle transitions. Malformed messages
// are dead-lettered and logged; only store or transport failures propagate.
func (e *Engine) Handle(ctx context.Context, msg transport.Message) error {
	switch msg.RoutingKey {
	case startKey, stopKey:
		// fall through to header validation below
	default:
		malformed := &MalformedMessageError{Reason: fmt.Sprintf("unknown routing key %q", msg.RoutingKey)}
		e.log.Warn().Str("routing_key", msg.RoutingKey).Msg(malformed.Error())
		metrics.MessagesTotal.WithLabelValues(msg.RoutingKey, "deadletter").Inc()
		if err := e.transport.Reject(ctx, msg.DeliveryTag, malformed.Error()); err != nil {
			return &TransportError{Op: "reject", Err: err}
		}
		return nil
	}

	phone, ok := headerString(msg.Headers, "phone")
	if !ok {
		return e.rejectMissingHeader(ctx, msg, "phone")
	}
	ipAddr, ok := headerString(msg.Headers, "ip_addr")
	if !ok {
		return e.rejectMissingHeader(ctx, msg, "ip_addr")
	}
	region, ok := headerString(msg.Headers, "region")
	if !ok {
		return e.rejectMissingHeader(ctx, msg, "region")
	}
	guid, ok := headerString(msg.Headers, "guid")
	if !ok {
		return e.rejectMissingHeader(ctx, msg, "guid")
	}
	desc, _ := headerString(msg.Headers, "description")
	if desc == "" {
		e.log.Debug().Str("phone", phone).Msg("substituted UNKNOWN description for empty header")
		desc = model.UnknownDescription
	}

	now := e.clock.Now()

	switch msg.RoutingKey {
	case startKey:
		existing, err := e.store.Get(ctx, phone)
		if err != nil {
			return &StoreError{Op: "get", Err: err}
		}
		if existing == nil {
			if err := e.store.Insert(ctx, now, phone, ipAddr, region, guid, desc); err != nil {
				return &StoreError{Op: "insert", Err: err}
			}
			e.log.Debug().Str("phone", phone).Msg("new session created")
		} else {
			if err := e.store.Touch(ctx, now, phone); err != nil {
				return &StoreError{Op: "touch", Err: err}
			}
			e.log.Debug().Str("phone", phone).Msg("session refreshed")
		}
		metrics.MessagesTotal.WithLabelValues(startKey, "ok").Inc()

	case stopKey:
		n, err := e.store.DeleteIfNotInCooldown(ctx, phone)
		if err != nil {
			return &StoreError{Op: "delete_if_not_in_cooldown", Err: err}
		}
		if n == 0 {
			e.log.Warn().Str("phone", phone).Msg("stop received for phone not in cache or in cooldown")
			metrics.MessagesTotal.WithLabelValues(stopKey, "warning").Inc()
		} else {
			metrics.MessagesTotal.WithLabelValues(stopKey, "ok").Inc()
		}
	}

	if err := e.transport.Ack(ctx, msg.DeliveryTag); err != nil {
		return &TransportError{Op: "ack", Err: err}
	}
	return nil
}

func (e *Engine) rejectMissingHeader(ctx context.Context, msg transport.Message, field string) error {
	malformed := &MalformedMessageError{Reason: fmt.Sprintf("missing required header %q", field)}
	e.log.Warn().Str("routing_key", msg.RoutingKey).Str("field", field).Msg(malformed.Error())
	metrics.MessagesTotal.WithLabelValues(msg.RoutingKey, "deadletter").Inc()
	if err := e.transport.Reject(ctx, msg.DeliveryTag, malformed.Error()); err != nil {
		return &TransportError{Op: "reject", Err: err}
	}
	return nil
}

func headerString(headers map[string]any, key string) (string, bool) {
	v, ok := headers[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// manifestEnvelope is the header set published alongside the manifest body
// (spec.md §6).
type manifestEnvelope struct {
	Source      string `json:"source"`
	PublishedAt string `json:"published_at"`
	Records     int    `json:"records"`
}

// headers renders the envelope as the map Transport.Publish takes.
func (m manifestEnvelope) headers() map[string]any {
	return map[string]any{
		"source":       m.Source,
		"published_at": m.PublishedAt,
		"records":      m.Records,
	}
}

// PublishManifest runs the four-step periodic cycle: prune, balance
// cooldown, select, mark & emit. It is the timer callback registered in
// Run, but tests call it directly against a controlled Clock.
func (e *Engine) PublishManifest(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.ManifestCycleDuration.Observe(time.Since(start).Seconds())
	}()

	now := e.clock.Now()

	// Step 1: prune.
	expiredCount, err := e.store.DeleteExpired(ctx, now, e.cfg.ActiveTime)
	if err != nil {
		return &StoreError{Op: "delete_expired", Err: err}
	}
	cooldownFinishedCount, err := e.store.DeleteFinishedCooldown(ctx, now)
	if err != nil {
		return &StoreError{Op: "delete_finished_cooldown", Err: err}
	}

	// Step 2: balance cooldown.
	eligible, err := e.store.SelectEligible(ctx, now, e.cfg.ActiveTime)
	if err != nil {
		return &StoreError{Op: "select_eligible", Err: err}
	}

	sentToCooldown := false
	if len(eligible) > e.cfg.ManifestSize {
		if err := e.store.SendAllTaskedToCooldown(ctx, now, e.cfg.CooldownTime); err != nil {
			return &StoreError{Op: "send_all_tasked_to_cooldown", Err: err}
		}
		sentToCooldown = true
		metrics.CooldownTransitionsTotal.WithLabelValues("entered").Inc()

		eligible, err = e.store.SelectEligible(ctx, now, e.cfg.ActiveTime)
		if err != nil {
			return &StoreError{Op: "select_eligible", Err: err}
		}
	}

	released := false
	if len(eligible) < e.cfg.ManifestSize {
		if err := e.store.ReleaseRecentFromCooldown(ctx, now, e.cfg.ActiveTime); err != nil {
			return &StoreError{Op: "release_recent_from_cooldown", Err: err}
		}
		released = true
		metrics.CooldownTransitionsTotal.WithLabelValues("released").Inc()
	}

	// Step 3: select.
	chosen, err := e.store.SelectEligible(ctx, now, e.cfg.ActiveTime)
	if err != nil {
		return &StoreError{Op: "select_eligible", Err: err}
	}
	sort.SliceStable(chosen, func(i, j int) bool {
		if chosen[i].DateCreated != chosen[j].DateCreated {
			return chosen[i].DateCreated > chosen[j].DateCreated
		}
		return chosen[i].Phone < chosen[j].Phone
	})
	if len(chosen) > e.cfg.ManifestSize {
		chosen = chosen[:e.cfg.ManifestSize]
	}

	// Step 4: mark & emit.
	phones := make([]string, len(chosen))
	for i, r := range chosen {
		phones[i] = r.Phone
	}
	if err := e.store.MarkTasked(ctx, now, phones); err != nil {
		return &StoreError{Op: "mark_tasked", Err: err}
	}

	body, err := json.MarshalIndent(chosen, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	envelope := manifestEnvelope{
		Source:      "mpi",
		PublishedAt: time.Unix(now, 0).Format(time.RFC3339),
		Records:     len(chosen),
	}
	if err := e.transport.Publish(ctx, e.cfg.PublishExchange, e.cfg.PublishKey, envelope.headers(), body); err != nil {
		return &TransportError{Op: "publish", Err: err}
	}

	metrics.ManifestPublishedTotal.Inc()
	metrics.ManifestRecords.Set(float64(len(chosen)))

	e.log.Info().
		Int("expired_pruned", expiredCount).
		Int("cooldown_pruned", cooldownFinishedCount).
		Bool("sent_to_cooldown", sentToCooldown).
		Bool("released_from_cooldown", released).
		Int("manifest_records", len(chosen)).
		Msg("manifest cycle complete")

	return nil
}
