// Package engine is the comment-to-DM pipeline: it takes inbound comment
// events, matches them against active automation rules, guards sends with
// the dedup ledger and daily rate limiter, and records one outcome log row
// per (event, rule) pipeline instance.
package engine

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/dmflow/internal/channels"
	"github.com/ignite/dmflow/internal/logs"
	"github.com/ignite/dmflow/internal/pkg/distlock"
	"github.com/ignite/dmflow/internal/pkg/logger"
	"github.com/ignite/dmflow/internal/ratelimit"
	"github.com/ignite/dmflow/internal/render"
	"github.com/ignite/dmflow/internal/rules"
	"github.com/ignite/dmflow/internal/transport"
)

// RuleSource is the dispatcher's read/counter surface over the rule store.
type RuleSource interface {
	ListActiveByChannel(ctx context.Context, channelID uuid.UUID) ([]rules.Rule, error)
	IncrStat(ctx context.Context, id uuid.UUID, field rules.StatField) error
}

// OutcomeLog is the dispatcher's write surface over the log store.
type OutcomeLog interface {
	Append(ctx context.Context, e *logs.Entry) error
	Resolve(ctx context.Context, id uuid.UUID, outcome logs.Outcome, failureReason string, responseMs int64) error
}

// ChannelRegistry looks up send credentials and connection health.
type ChannelRegistry interface {
	Get(ctx context.Context, id uuid.UUID) (*channels.Channel, error)
}

// Suppressor is the dedup ledger surface.
type Suppressor interface {
	ShouldSuppress(ctx context.Context, ruleID uuid.UUID, recipientID string, window time.Duration) (bool, error)
	RecordSent(ctx context.Context, ruleID uuid.UUID, recipientID string, sentAt time.Time) error
}

// Limiter is the daily quota surface.
type Limiter interface {
	TryReserve(ctx context.Context, ruleID uuid.UUID, day string, limit int) (ratelimit.Decision, error)
}

// DelayQueue parks and resumes delayed pipeline instances.
type DelayQueue interface {
	Enqueue(ctx context.Context, item *QueuedItem) error
	Due(ctx context.Context, now time.Time, limit int) ([]QueuedItem, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// LockFactory builds one lock handle per (rule, recipient) key.
type LockFactory func(key string) distlock.DistLock

// RetryPolicy bounds the transient-failure retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	Workers   int
	QueueTick time.Duration
	Retry     RetryPolicy
	// Now is the clock; tests swap it.
	Now func() time.Time
}

// Dispatcher runs the per-(event, rule) pipeline state machine:
// received → matched → {keyword_filtered | deduped | rate_limited} →
// queued? → sent | failed.
type Dispatcher struct {
	rules    RuleSource
	outcomes OutcomeLog
	registry ChannelRegistry
	ledger   Suppressor
	limiter  Limiter
	queue    DelayQueue
	sender   transport.Sender
	deduper  *EventDeduper
	newLock  LockFactory

	opts Options
	now  func() time.Time

	sem     chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex
}

func NewDispatcher(ruleSource RuleSource, outcomes OutcomeLog, registry ChannelRegistry,
	ledger Suppressor, limiter Limiter, queue DelayQueue, sender transport.Sender,
	deduper *EventDeduper, newLock LockFactory, opts Options) *Dispatcher {

	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueTick <= 0 {
		opts.QueueTick = time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = 500 * time.Millisecond
	}
	if opts.Retry.MaxDelay <= 0 {
		opts.Retry.MaxDelay = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Dispatcher{
		rules:    ruleSource,
		outcomes: outcomes,
		registry: registry,
		ledger:   ledger,
		limiter:  limiter,
		queue:    queue,
		sender:   sender,
		deduper:  deduper,
		newLock:  newLock,
		opts:     opts,
		now:      now,
		sem:      make(chan struct{}, opts.Workers),
	}
}

// Start launches the delay-queue resumer loop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	logger.Info("dispatcher starting", "workers", d.opts.Workers)
	d.wg.Add(1)
	go d.resumeLoop()
}

// Stop drains in-flight pipelines with a timeout.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("dispatcher stopped cleanly")
	case <-time.After(30 * time.Second):
		logger.Warn("dispatcher shutdown timed out with pipelines in flight")
	}
}

// HandleComment is the intake for one observed comment. Each matching rule
// runs as its own pipeline instance: one rule's failure never aborts the
// others, and there is no cross-rule first-match-wins.
func (d *Dispatcher) HandleComment(ctx context.Context, evt CommentEvent) error {
	if d.deduper != nil {
		seen, err := d.deduper.Seen(ctx, evt.EventID)
		if err != nil {
			logger.Warn("event dedupe unavailable, processing anyway",
				"event_id", evt.EventID, "error", err)
		} else if seen {
			logger.Debug("dropping redelivered event", "event_id", evt.EventID)
			return nil
		}
	}

	active, err := d.rules.ListActiveByChannel(ctx, evt.ChannelID)
	if err != nil {
		return err
	}
	evals := MatchRules(evt, active)

	// Pipelines outlive the intake request; they run on the dispatcher's
	// own context so a webhook response does not cancel a send in flight.
	d.mu.Lock()
	pctx := d.ctx
	d.mu.Unlock()
	if pctx == nil {
		pctx = context.Background()
	}

	for _, eval := range evals {
		eval := eval
		d.wg.Add(1)
		d.sem <- struct{}{}
		go func() {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			d.runPipeline(pctx, evt, eval)
		}()
	}
	return nil
}

// runPipeline drives one (event, rule) instance to a log row.
func (d *Dispatcher) runPipeline(ctx context.Context, evt CommentEvent, eval Evaluation) {
	rule := eval.Rule

	if err := d.rules.IncrStat(ctx, rule.ID, rules.StatTriggered); err != nil {
		logger.Warn("stat increment failed", "rule_id", rule.ID, "error", err)
	}

	if eval.Outcome == KeywordFiltered {
		d.appendOutcome(ctx, evt, rule, logs.OutcomeKeywordFiltered, "", 0)
		return
	}

	// Unhealthy channels fail fast, before any budget is consumed.
	ch, err := d.registry.Get(ctx, evt.ChannelID)
	if err != nil {
		d.appendOutcome(ctx, evt, rule, logs.OutcomeFailed, "permanent: channel lookup failed", 0)
		d.incrStat(ctx, rule.ID, rules.StatFailed)
		return
	}
	if !ch.Healthy() {
		d.appendOutcome(ctx, evt, rule, logs.OutcomeFailed,
			"permanent: channel connection "+string(ch.ConnectionStatus), 0)
		d.incrStat(ctx, rule.ID, rules.StatFailed)
		return
	}

	// Serialize check-then-send-then-record per (rule, recipient) so two
	// near-simultaneous comments from the same user cannot both pass the
	// dedup check.
	lock := d.newLock(pairKey(rule.ID, evt.CommenterID))
	if !d.acquireLock(ctx, lock) {
		d.appendOutcome(ctx, evt, rule, logs.OutcomeFailed, "transient: recipient pipeline busy", 0)
		d.incrStat(ctx, rule.ID, rules.StatFailed)
		return
	}
	defer lock.Release(ctx)

	if rule.DedupEnabled {
		suppress, err := d.ledger.ShouldSuppress(ctx, rule.ID, evt.CommenterID, rule.DedupWindow())
		if err != nil {
			d.appendOutcome(ctx, evt, rule, logs.OutcomeFailed, "transient: dedup ledger unavailable", 0)
			d.incrStat(ctx, rule.ID, rules.StatFailed)
			return
		}
		if suppress {
			d.appendOutcome(ctx, evt, rule, logs.OutcomeDeduped, "", 0)
			d.incrStat(ctx, rule.ID, rules.StatDeduped)
			return
		}
	}

	// Reserve budget before rendering or sending. The reservation sticks
	// even if the send later fails; attempts count against platform
	// limits regardless of outcome.
	decision, err := d.limiter.TryReserve(ctx, rule.ID, ratelimit.DayKey(d.now()), rule.DailyLimit)
	if err != nil {
		d.appendOutcome(ctx, evt, rule, logs.OutcomeFailed, "transient: rate limiter unavailable", 0)
		d.incrStat(ctx, rule.ID, rules.StatFailed)
		return
	}
	if !decision.Reserved {
		d.appendOutcome(ctx, evt, rule, logs.OutcomeRateLimited, "", 0)
		return
	}

	if rule.DelaySeconds > 0 {
		entry := d.newEntry(evt, rule, logs.OutcomeQueued, "", 0)
		if err := d.outcomes.Append(ctx, entry); err != nil {
			logger.Error("queued log append failed", "rule_id", rule.ID, "error", err)
			return
		}
		item := &QueuedItem{
			LogID:    entry.ID,
			Rule:     rule,
			Event:    evt,
			ResumeAt: d.now().Add(rule.Delay()),
		}
		if err := d.queue.Enqueue(ctx, item); err != nil {
			logger.Error("enqueue failed", "rule_id", rule.ID, "error", err)
			d.outcomes.Resolve(ctx, entry.ID, logs.OutcomeFailed, "transient: delay queue unavailable", 0)
			d.incrStat(ctx, rule.ID, rules.StatFailed)
		}
		return
	}

	d.deliver(ctx, evt, rule, ch, uuid.Nil)
}

// resumeLoop polls the delay queue and finishes parked pipelines. Queued
// items of a rule paused in the meantime still resolve here: the rule
// snapshot drives the send, so statistics stay consistent instead of items
// silently vanishing.
func (d *Dispatcher) resumeLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.QueueTick)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processDue()
		}
	}
}

func (d *Dispatcher) processDue() {
	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	items, err := d.queue.Due(ctx, d.now(), 100)
	if err != nil {
		logger.Error("delay queue poll failed", "error", err)
		return
	}
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		d.Resume(ctx, item)
	}
}

// Resume finishes one queued pipeline instance. Dedup and rate-limit were
// checked once before queueing and are not re-checked here.
func (d *Dispatcher) Resume(ctx context.Context, item QueuedItem) {
	ch, err := d.registry.Get(ctx, item.Event.ChannelID)
	if err != nil || !ch.Healthy() {
		reason := "permanent: channel lookup failed"
		if err == nil {
			reason = "permanent: channel connection " + string(ch.ConnectionStatus)
		}
		d.outcomes.Resolve(ctx, item.LogID, logs.OutcomeFailed, reason, 0)
		d.incrStat(ctx, item.Rule.ID, rules.StatFailed)
		d.queue.Delete(ctx, item.ID)
		return
	}

	lock := d.newLock(pairKey(item.Rule.ID, item.Event.CommenterID))
	if d.acquireLock(ctx, lock) {
		defer lock.Release(ctx)
	}

	d.deliver(ctx, item.Event, item.Rule, ch, item.LogID)
	d.queue.Delete(ctx, item.ID)
}

// deliver renders and sends, retrying transient transport failures with
// exponential backoff. Exactly one log row results: appended fresh for the
// direct path, or resolving the queued row when logID is set.
func (d *Dispatcher) deliver(ctx context.Context, evt CommentEvent, rule rules.Rule, ch *channels.Channel, logID uuid.UUID) {
	text := render.Render(rule.Template, render.Vars{
		Username:    evt.CommenterUsername,
		CommentText: evt.CommentText,
		PostLink:    evt.PostLink,
		PostCaption: evt.PostCaption,
	})

	var latency int64
	var sendErr error
	for attempt := 1; attempt <= d.opts.Retry.MaxAttempts; attempt++ {
		latency, sendErr = d.sender.SendDM(ctx, ch, evt.CommenterID, text)
		if sendErr == nil {
			break
		}
		if !transport.IsTransient(sendErr) || attempt == d.opts.Retry.MaxAttempts {
			break
		}
		delay := d.backoff(attempt)
		logger.Debug("send retry scheduled",
			"rule_id", rule.ID, "attempt", attempt, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			sendErr = transport.Transient("send canceled", ctx.Err())
			attempt = d.opts.Retry.MaxAttempts
		}
	}

	if sendErr != nil {
		d.settle(ctx, evt, rule, logID, logs.OutcomeFailed, transport.Reason(sendErr), 0)
		d.incrStat(ctx, rule.ID, rules.StatFailed)
		return
	}

	sentAt := d.now()
	if rule.DedupEnabled {
		if err := d.ledger.RecordSent(ctx, rule.ID, evt.CommenterID, sentAt); err != nil {
			logger.Warn("dedup record failed after send", "rule_id", rule.ID, "error", err)
		}
	}
	d.settle(ctx, evt, rule, logID, logs.OutcomeSent, "", latency)
	d.incrStat(ctx, rule.ID, rules.StatSent)
}

// settle writes the terminal outcome: a fresh row, or the queued row's
// single permitted transition.
func (d *Dispatcher) settle(ctx context.Context, evt CommentEvent, rule rules.Rule, logID uuid.UUID, outcome logs.Outcome, reason string, latency int64) {
	if logID != uuid.Nil {
		if err := d.outcomes.Resolve(ctx, logID, outcome, reason, latency); err != nil {
			logger.Error("queued log resolve failed", "log_id", logID, "error", err)
		}
		return
	}
	d.appendOutcome(ctx, evt, rule, outcome, reason, latency)
}

func (d *Dispatcher) appendOutcome(ctx context.Context, evt CommentEvent, rule rules.Rule, outcome logs.Outcome, reason string, latency int64) {
	entry := d.newEntry(evt, rule, outcome, reason, latency)
	if err := d.outcomes.Append(ctx, entry); err != nil {
		logger.Error("outcome log append failed",
			"rule_id", rule.ID, "outcome", outcome, "error", err)
	}
}

func (d *Dispatcher) newEntry(evt CommentEvent, rule rules.Rule, outcome logs.Outcome, reason string, latency int64) *logs.Entry {
	return &logs.Entry{
		ID:                uuid.New(),
		RuleID:            rule.ID,
		ChannelID:         evt.ChannelID,
		CommenterID:       evt.CommenterID,
		CommenterUsername: evt.CommenterUsername,
		CommentText:       evt.CommentText,
		CommentedAt:       evt.CommentedAt,
		Outcome:           outcome,
		FailureReason:     reason,
		ResponseMs:        latency,
	}
}

func (d *Dispatcher) incrStat(ctx context.Context, ruleID uuid.UUID, field rules.StatField) {
	if err := d.rules.IncrStat(ctx, ruleID, field); err != nil {
		logger.Warn("stat increment failed", "rule_id", ruleID, "field", field, "error", err)
	}
}

// acquireLock spins on the non-blocking lock until it is held, the wait
// budget runs out, or the context ends.
func (d *Dispatcher) acquireLock(ctx context.Context, lock distlock.DistLock) bool {
	deadline := time.Now().Add(30 * time.Second)
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			logger.Warn("lock acquire error", "error", err)
			return false
		}
		if ok {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// backoff computes the delay before the given retry attempt: exponential
// with full jitter, capped at MaxDelay.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	exp := float64(d.opts.Retry.BaseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(d.opts.Retry.MaxDelay) {
		exp = float64(d.opts.Retry.MaxDelay)
	}
	jittered := time.Duration(rand.Float64() * exp)
	if jittered < 50*time.Millisecond {
		jittered = 50 * time.Millisecond
	}
	return jittered
}

func pairKey(ruleID uuid.UUID, recipientID string) string {
	return "pair:" + ruleID.String() + ":" + recipientID
}
