// Package webhook is the Webhook Router (C11, spec.md §4.11, §5, §6): the
// HTTP entrypoint for inbound chat-channel events. Each request is handled
// to completion of the fast idempotent audit step synchronously, then
// handed to a bounded in-process queue for the processing workers that run
// the rest of the Message Processor pipeline (C10).
package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/message"
	"github.com/chatrelay/convoengine/internal/store"
	"github.com/chatrelay/convoengine/pkg/webhookproto"
)

// Router is the Webhook Router (C11).
type Router struct {
	events store.WebhookEventStore
	msgs   store.MessageStore
	queue  chan message.Inbound
	hub    *Hub
}

// New builds a Router with a bounded processing queue (size per spec.md §5,
// default ≥1024). Start must be called to run the draining workers.
func New(events store.WebhookEventStore, msgs store.MessageStore, queueSize int) *Router {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Router{events: events, msgs: msgs, queue: make(chan message.Inbound, queueSize), hub: NewHub()}
}

// Queue exposes the inbound-event channel so the composition root can start
// processing workers draining it.
func (r *Router) Queue() <-chan message.Inbound { return r.queue }

// LiveTail exposes the admin websocket hub so the composition root can
// mount it at a separate path (e.g. /admin/webhook-events/ws).
func (r *Router) LiveTail() *Hub { return r.hub }

// ServeHTTP implements the POST /webhook contract of §6.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env webhookproto.Envelope
	if err := json.NewDecoder(req.Body).Decode(&env); err != nil || env.Event == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch env.Event {
	case webhookproto.EventMessagesUpsert:
		r.handleMessagesUpsert(req, env, w)
	case webhookproto.EventMessageSent:
		r.handleMessageSent(req, env, w)
	case webhookproto.EventMessageReceipt:
		r.handleMessageReceipt(req, env, w)
	case webhookproto.EventMessagesUpdate:
		r.handleMessagesUpdate(req, env, w)
	default:
		r.audit(req, "", env.Event, "ignored")
		respond(w, http.StatusOK, webhookproto.Response{Status: "ignored", EventType: env.Event})
	}
}

func (r *Router) handleMessagesUpsert(req *http.Request, env webhookproto.Envelope, w http.ResponseWriter) {
	var data webhookproto.MessagesUpsertData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.From == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	r.audit(req, data.Tenant, env.Event, "received")

	in := message.Inbound{
		Tenant:           data.Tenant,
		From:             data.From,
		ChannelMessageID: data.ChannelMessageID,
		Text:             data.Text,
		At:               atFromUnix(data.Timestamp),
	}

	select {
	case r.queue <- in:
		respond(w, http.StatusOK, webhookproto.Response{Status: "success", EventType: env.Event})
	default:
		slog.Warn("webhook.queue_overflow", "tenant", data.Tenant)
		http.Error(w, "processing queue full", http.StatusServiceUnavailable)
	}
}

func (r *Router) handleMessageSent(req *http.Request, env webhookproto.Envelope, w http.ResponseWriter) {
	var data webhookproto.MessageSentData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.audit(req, data.Tenant, env.Event, "received")

	if data.ChannelMessageID != "" {
		if err := r.msgs.UpdateStatus(req.Context(), data.ChannelMessageID, domain.StatusSent, ""); err != nil {
			slog.Warn("webhook.update_status_failed", "event", env.Event, "error", err)
		}
	}
	respond(w, http.StatusOK, webhookproto.Response{Status: "success", EventType: env.Event})
}

func (r *Router) handleMessageReceipt(req *http.Request, env webhookproto.Envelope, w http.ResponseWriter) {
	var data webhookproto.MessageReceiptData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.audit(req, data.Tenant, env.Event, "received")

	if data.ChannelMessageID != "" {
		status := receiptStatus(data.Status)
		if status != "" {
			// UpdateStatus itself enforces monotonicity; an "earlier" status
			// transition is silently ignored there (§4.11 invariant).
			if err := r.msgs.UpdateStatus(req.Context(), data.ChannelMessageID, status, ""); err != nil {
				slog.Warn("webhook.update_status_failed", "event", env.Event, "error", err)
			}
		}
	}
	respond(w, http.StatusOK, webhookproto.Response{Status: "success", EventType: env.Event})
}

func (r *Router) handleMessagesUpdate(req *http.Request, env webhookproto.Envelope, w http.ResponseWriter) {
	r.audit(req, "", env.Event, "logged")
	respond(w, http.StatusOK, webhookproto.Response{Status: "success", EventType: env.Event})
}

func receiptStatus(s string) domain.MessageStatus {
	switch s {
	case "delivered":
		return domain.StatusDelivered
	case "read":
		return domain.StatusRead
	default:
		return ""
	}
}

func (r *Router) audit(req *http.Request, tenant, kind, status string) {
	if r.events == nil {
		return
	}
	body, _ := json.Marshal(map[string]string{"kind": kind})
	event := &domain.WebhookEvent{
		Tenant:           tenant,
		Kind:             kind,
		Payload:          string(body),
		ReceivedAt:       time.Now(),
		ProcessingStatus: status,
	}
	if err := r.events.Append(req.Context(), event); err != nil {
		slog.Warn("webhook.audit_append_failed", "kind", kind, "error", err)
		return
	}
	r.hub.Broadcast(event)
}

func atFromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}

func respond(w http.ResponseWriter, status int, body webhookproto.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
