package webhook

import (
	"context"
	"log/slog"

	"github.com/chatrelay/convoengine/internal/message"
)

// Processor is the subset of message.Processor the worker pool needs.
type Processor interface {
	Process(ctx context.Context, in message.Inbound) (message.Outcome, error)
}

// RunWorkers drains the router's queue with n concurrent processing
// workers until ctx is cancelled (spec.md §5: "a pool of outbound-send
// workers" consuming the bounded in-process queue). A panic inside one
// worker's Process call is recovered so it cannot take down the process
// (§7).
func (r *Router) RunWorkers(ctx context.Context, n int, proc Processor) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go r.runWorker(ctx, proc)
	}
}

func (r *Router) runWorker(ctx context.Context, proc Processor) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-r.queue:
			r.processOne(ctx, proc, in)
		}
	}
}

func (r *Router) processOne(ctx context.Context, proc Processor, in message.Inbound) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("webhook.worker_panic_recovered", "tenant", in.Tenant, "panic", rec)
		}
	}()
	if _, err := proc.Process(ctx, in); err != nil {
		slog.Error("webhook.process_failed", "tenant", in.Tenant, "error", err)
	}
}
