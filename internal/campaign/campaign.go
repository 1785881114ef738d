// Package campaign is the Bulk/Campaign Engine (C13, spec.md §4.13): a
// one-shot send of one message to many targets, paced to respect the
// channel gateway's rate limits and cancellable mid-run.
package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatrelay/convoengine/internal/channel"
	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// Engine is the Bulk/Campaign Engine (C13).
type Engine struct {
	jobs      store.CampaignStore
	channel   *channel.Client
	sendDelay time.Duration
}

// New builds an Engine. sendDelay paces successive sends within one
// campaign run (spec.md §4.13 default 10s).
func New(jobs store.CampaignStore, ch *channel.Client, sendDelay time.Duration) *Engine {
	if sendDelay <= 0 {
		sendDelay = 10 * time.Second
	}
	return &Engine{jobs: jobs, channel: ch, sendDelay: sendDelay}
}

// Launch creates a CampaignJob row and runs it to completion synchronously.
// Callers that want async dispatch should invoke Launch from a goroutine;
// the engine itself holds no background state, so the composition root owns
// concurrency.
func (e *Engine) Launch(ctx context.Context, tenant, message string, targets []string) (*domain.CampaignJob, error) {
	resolved, err := ResolveTargets(ctx, tenant, targets, e.channel)
	if err != nil {
		return nil, fmt.Errorf("campaign: resolve targets: %w", err)
	}

	job := &domain.CampaignJob{
		Tenant:    tenant,
		Message:   message,
		Targets:   resolved,
		Status:    domain.CampaignPending,
		StartedAt: time.Now(),
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("campaign: create job: %w", err)
	}

	if err := e.jobs.UpdateStatus(ctx, job.ID, domain.CampaignRunning); err != nil {
		return job, fmt.Errorf("campaign: mark running: %w", err)
	}
	job.Status = domain.CampaignRunning

	e.run(ctx, job)
	return job, nil
}

// run sends the job's message to each target sequentially, pacing between
// sends and checking for cancellation before each one (§4.13).
func (e *Engine) run(ctx context.Context, job *domain.CampaignJob) {
	var success, failure, skipped int
	wasCancelled := false

	for i, target := range job.Targets {
		cancelled, err := e.jobs.IsCancelled(ctx, job.ID)
		if err != nil {
			slog.Error("campaign.is_cancelled_check_failed", "job", job.ID, "error", err)
		}
		if cancelled {
			wasCancelled = true
			remaining := len(job.Targets) - i
			skipped += remaining
			for _, rest := range job.Targets[i:] {
				e.recordResult(ctx, job.ID, rest, domain.ResultSkipped, "campaign cancelled")
			}
			break
		}

		canonical, err := channel.Canonicalize(target)
		if err != nil {
			skipped++
			e.recordResult(ctx, job.ID, target, domain.ResultSkipped, "invalid recipient: "+err.Error())
			continue
		}

		if _, _, sendErr := e.channel.SendText(ctx, job.Tenant, canonical, job.Message); sendErr != nil {
			failure++
			e.recordResult(ctx, job.ID, target, domain.ResultFailure, sendErr.Error())
		} else {
			success++
			e.recordResult(ctx, job.ID, target, domain.ResultSuccess, "")
		}

		if err := e.jobs.IncrementCounters(ctx, job.ID, success, failure, skipped); err != nil {
			slog.Error("campaign.increment_counters_failed", "job", job.ID, "error", err)
		}

		if i < len(job.Targets)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.sendDelay):
			}
		}
	}

	job.SuccessCount, job.FailureCount, job.SkippedCount = success, failure, skipped
	final := finalStatus(success, failure, skipped, len(job.Targets))
	if wasCancelled {
		final = domain.CampaignCancelled
	}
	job.Status = final
	now := time.Now()
	job.EndedAt = &now

	if err := e.jobs.UpdateStatus(ctx, job.ID, final); err != nil {
		slog.Error("campaign.final_status_failed", "job", job.ID, "error", err)
	}
	if err := e.jobs.Finish(ctx, job.ID, now); err != nil {
		slog.Error("campaign.finish_failed", "job", job.ID, "error", err)
	}
}

// finalStatus implements §4.13's pending→running→{completed,partial,failed}
// transition: every target skipped is cancelled, all-success is completed,
// no success (failures, possibly with skips) is failed, any other mix is
// partial.
func finalStatus(success, failure, skipped, total int) domain.CampaignStatus {
	if skipped == total && total > 0 {
		return domain.CampaignCancelled
	}
	if success == total {
		return domain.CampaignCompleted
	}
	if success == 0 {
		return domain.CampaignFailed
	}
	return domain.CampaignPartial
}

func (e *Engine) recordResult(ctx context.Context, jobID, target string, status domain.MessageResultStatus, reason string) {
	r := &domain.MessageResult{
		OwnerID:     jobID,
		OwnerKind:   "campaign",
		Target:      target,
		Status:      status,
		ErrorReason: reason,
		SentAt:      time.Now(),
	}
	if err := e.jobs.RecordResult(ctx, r); err != nil {
		slog.Error("campaign.record_result_failed", "job", jobID, "target", target, "error", err)
	}
}

// Cancel marks a running job cancelled; the run loop observes this on its
// next per-target poll (§4.13).
func (e *Engine) Cancel(ctx context.Context, tenant, id string) error {
	return e.jobs.Cancel(ctx, tenant, id)
}
