// Package scheduler is the Scheduler Worker (C12, spec.md §4.12): a
// periodic driver with two duties, due scheduled-message sends and
// handover-timeout rescue, each on its own cadence. Cadence ticks are
// driven by cron expressions evaluated with gronx rather than a bare
// time.Ticker, so operators can retune either duty's schedule (e.g. "every
// 5 minutes in high-contention mode", §4.12) without a code change.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/chatrelay/convoengine/internal/campaign"
	"github.com/chatrelay/convoengine/internal/channel"
	"github.com/chatrelay/convoengine/internal/config"
	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// Worker is the Scheduler Worker (C12).
type Worker struct {
	scheduled     store.ScheduledMessageStore
	conversations store.ConversationStore
	contacts      store.ContactStore
	channel       *channel.Client
	cfg           config.SchedulerConfig

	scheduledCron string
	rescueCron    string
	gron          gronx.Gronx

	lock AdvisoryLock
}

// AdvisoryLock coordinates single-replica scheduling across process
// instances so two replicas never both pick up the same due row (§4.12
// concurrency note). A Postgres-backed implementation uses
// pg_try_advisory_lock; tests use a no-op in-process lock.
type AdvisoryLock interface {
	// TryAcquire attempts to take the named lock, returning false if another
	// holder has it.
	TryAcquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// New builds a Worker. The scheduled-message duty's cadence derives from
// cfg.ScheduledInterval (default 60s -> "* * * * *"); the rescue duty's
// from cfg.RescueInterval (default 2m -> "*/2 * * * *"). Both are re-tunable
// at deploy time without a code change (§4.12's "every 5 minutes in
// high-contention mode" operator knob) since Run's ticker only needs to
// fire at least once a minute for gronx.IsDue to catch either cadence.
func New(scheduled store.ScheduledMessageStore, conversations store.ConversationStore, contacts store.ContactStore, ch *channel.Client, cfg config.SchedulerConfig, lock AdvisoryLock) *Worker {
	return &Worker{
		scheduled:     scheduled,
		conversations: conversations,
		contacts:      contacts,
		channel:       ch,
		cfg:           cfg,
		scheduledCron: cronEvery(cfg.ScheduledInterval, "* * * * *"),
		rescueCron:    cronEvery(cfg.RescueInterval, "*/2 * * * *"),
		gron:          gronx.New(),
		lock:          lock,
	}
}

// cronEvery derives a "run every N minutes" cron expression from interval,
// falling back to fallback when interval is unset. Sub-minute intervals
// collapse to once a minute, since Run's driving ticker itself only fires
// on minute boundaries.
func cronEvery(interval time.Duration, fallback string) string {
	if interval <= 0 {
		return fallback
	}
	minutes := int(interval / time.Minute)
	if minutes <= 1 {
		return "* * * * *"
	}
	return fmt.Sprintf("*/%d * * * *", minutes)
}

// Run polls once a minute, firing each duty when its cron expression is
// due, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	w.tickAt(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.tickAt(ctx, now)
		}
	}
}

func (w *Worker) tickAt(ctx context.Context, now time.Time) {
	if due, _ := w.gron.IsDue(w.scheduledCron, now); due {
		if ok, err := w.lock.TryAcquire(ctx, "scheduler:scheduled_messages"); err == nil && ok {
			w.RunScheduledMessages(ctx, now)
			w.lock.Release(ctx, "scheduler:scheduled_messages")
		}
	}
	if due, _ := w.gron.IsDue(w.rescueCron, now); due {
		if ok, err := w.lock.TryAcquire(ctx, "scheduler:handover_rescue"); err == nil && ok {
			w.RunHandoverRescue(ctx, now)
			w.lock.Release(ctx, "scheduler:handover_rescue")
		}
	}
}

// RunScheduledMessages implements §4.12's "Scheduled messages" duty.
func (w *Worker) RunScheduledMessages(ctx context.Context, now time.Time) {
	due, err := w.scheduled.DuePending(ctx, now)
	if err != nil {
		slog.Error("scheduler.due_pending_failed", "error", err)
		return
	}
	for _, msg := range due {
		w.processScheduledMessage(ctx, msg, now)
	}
}

func (w *Worker) processScheduledMessage(ctx context.Context, msg *domain.ScheduledMessage, now time.Time) {
	if err := w.scheduled.MarkProcessing(ctx, msg.ID); err != nil {
		slog.Error("scheduler.mark_processing_failed", "id", msg.ID, "error", err)
		return
	}

	targets, err := campaign.ResolveTargets(ctx, msg.Tenant, msg.TargetGroups, w.channel)
	if err != nil {
		slog.Error("scheduler.resolve_targets_failed", "id", msg.ID, "error", err)
		targets = msg.TargetGroups
	}

	var success, failure int
	for _, target := range targets {
		result := &domain.MessageResult{OwnerID: msg.ID, OwnerKind: "scheduled", Target: target, SentAt: now}
		if _, _, err := w.sendOne(ctx, msg.Tenant, target, msg); err != nil {
			result.Status = domain.ResultFailure
			result.ErrorReason = err.Error()
			failure++
		} else {
			result.Status = domain.ResultSuccess
			success++
		}
		if rerr := w.scheduled.RecordResult(ctx, result); rerr != nil {
			slog.Error("scheduler.record_result_failed", "id", msg.ID, "error", rerr)
		}
	}

	var next *time.Time
	if msg.RecurringPattern != "" {
		t := nextSendAt(now, msg.RecurringPattern, msg.RecurringInterval)
		next = &t
	}
	if err := w.scheduled.Complete(ctx, msg.ID, success, failure, next); err != nil {
		slog.Error("scheduler.complete_failed", "id", msg.ID, "error", err)
	}
}

func (w *Worker) sendOne(ctx context.Context, tenant, target string, msg *domain.ScheduledMessage) (string, channel.SendStatus, error) {
	if msg.MediaURL != "" {
		return w.channel.SendMedia(ctx, tenant, target, channel.MediaKind(msg.MessageType), msg.MediaURL, msg.MessageContent)
	}
	return w.channel.SendText(ctx, tenant, target, msg.MessageContent)
}

// nextSendAt computes Δ(p)·k per §4.12 / §8 property 7.
func nextSendAt(from time.Time, pattern domain.RecurringPattern, interval int) time.Time {
	if interval < 1 {
		interval = 1
	}
	switch pattern {
	case domain.RecurringDaily:
		return from.AddDate(0, 0, interval)
	case domain.RecurringWeekly:
		return from.AddDate(0, 0, 7*interval)
	case domain.RecurringMonthly:
		return from.AddDate(0, interval, 0)
	default:
		return from
	}
}

// RunHandoverRescue implements §4.12's "Handover timeout rescue" duty.
func (w *Worker) RunHandoverRescue(ctx context.Context, now time.Time) {
	convs, err := w.conversations.ListForRescue(ctx)
	if err != nil {
		slog.Error("scheduler.list_for_rescue_failed", "error", err)
		return
	}
	for _, c := range convs {
		w.rescueOne(ctx, c, now)
	}
}

func (w *Worker) rescueOne(ctx context.Context, c *domain.Conversation, now time.Time) {
	if c.HandoverTimestamp == nil {
		return
	}
	elapsed := now.Sub(*c.HandoverTimestamp)

	to, err := w.recipientFor(ctx, c)
	if err != nil {
		slog.Error("scheduler.resolve_recipient_failed", "conversation", c.ID, "error", err)
		return
	}

	if elapsed >= w.cfg.RescueAfter {
		if err := w.conversations.SetBotEnabled(ctx, c.ID, true); err != nil {
			slog.Error("scheduler.reenable_bot_failed", "conversation", c.ID, "error", err)
			return
		}
		if err := w.conversations.ResolveHandover(ctx, c.ID, "timeout-auto-rescue"); err != nil {
			slog.Error("scheduler.resolve_handover_failed", "conversation", c.ID, "error", err)
			return
		}
		apology := "Thanks so much for your patience. I'm back to help — let me know what you need."
		if _, _, err := w.channel.SendText(ctx, c.Tenant, to, apology); err != nil {
			slog.Error("scheduler.rescue_apology_send_failed", "conversation", c.ID, "error", err)
		}
		return
	}

	for _, stage := range w.cfg.RescueStages {
		if elapsed < stage.After {
			continue
		}
		sent, err := w.conversations.CompareAndSetUpdateSent(ctx, c.ID, stage.Tag, now)
		if err != nil {
			slog.Error("scheduler.rescue_cas_failed", "conversation", c.ID, "stage", stage.Tag, "error", err)
			continue
		}
		if !sent {
			continue // already sent this stage-tag for this handover episode (§8 property 6)
		}
		if _, _, err := w.channel.SendText(ctx, c.Tenant, to, stage.Message); err != nil {
			slog.Error("scheduler.rescue_update_send_failed", "conversation", c.ID, "stage", stage.Tag, "error", err)
		}
	}
}

// recipientFor resolves a Conversation's channel-addressable phone number
// by reading its Contact (looked up with ContactID, which the Postgres
// store sets to the canonical phone number) and returning its PhoneNumber.
func (w *Worker) recipientFor(ctx context.Context, c *domain.Conversation) (string, error) {
	contact, err := w.contacts.Get(ctx, c.Tenant, c.ContactID)
	if err != nil {
		return "", err
	}
	return contact.PhoneNumber, nil
}
