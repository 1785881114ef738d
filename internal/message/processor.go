// Package message is the Message Processor (C10, spec.md §4.10): the
// per-inbound-event pipeline that resolves the contact/conversation,
// updates context, checks for handover and lead qualification, generates
// a reply, and sends it with retry.
package message

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chatrelay/convoengine/internal/channel"
	"github.com/chatrelay/convoengine/internal/contactctx"
	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/extraction"
	"github.com/chatrelay/convoengine/internal/handover"
	"github.com/chatrelay/convoengine/internal/leadqual"
	"github.com/chatrelay/convoengine/internal/personalize"
	"github.com/chatrelay/convoengine/internal/rag"
	"github.com/chatrelay/convoengine/internal/retry"
	"github.com/chatrelay/convoengine/internal/store"
)

const echoCacheSize = 4096
const recentHistoryLimit = 20

// Inbound is the normalized event the webhook router (C11) hands to the
// processor.
type Inbound struct {
	Tenant           string
	From             string // raw recipient-channel identifier, canonicalized here
	ChannelMessageID string
	Text             string
	At               time.Time
}

// Outcome records which step the pipeline stopped at, for logging/audit.
type Outcome struct {
	Stopped   string // "" if completed all the way through
	Reason    string
	ReplyText string
}

// Processor is the Message Processor (C10).
type Processor struct {
	contacts      store.ContactStore
	conversations store.ConversationStore
	messages      store.MessageStore
	ctx           *contactctx.Store
	extractor     *extraction.Extractor
	handoverClass *handover.Classifier
	leadQualifier *leadqual.Qualifier
	rag           *rag.Handler
	channel       *channel.Client

	selfNumber string // this tenant's own channel number, to drop echoes

	echoMu   sync.Mutex
	echoSeen *lru.Cache[string, struct{}]

	// locks serializes processing per (tenant, contact) per spec.md §5.
	locks keyedMutex
}

type Config struct {
	Contacts      store.ContactStore
	Conversations store.ConversationStore
	Messages      store.MessageStore
	ContactCtx    *contactctx.Store
	Extractor     *extraction.Extractor
	Handover      *handover.Classifier
	LeadQualifier *leadqual.Qualifier
	RAG           *rag.Handler
	Channel       *channel.Client
	SelfNumber    string
}

func New(cfg Config) *Processor {
	cache, _ := lru.New[string, struct{}](echoCacheSize)
	return &Processor{
		contacts:      cfg.Contacts,
		conversations: cfg.Conversations,
		messages:      cfg.Messages,
		ctx:           cfg.ContactCtx,
		extractor:     cfg.Extractor,
		handoverClass: cfg.Handover,
		leadQualifier: cfg.LeadQualifier,
		rag:           cfg.RAG,
		channel:       cfg.Channel,
		selfNumber:    cfg.SelfNumber,
		echoSeen:      cache,
		locks:         newKeyedMutex(),
	}
}

// Process runs the full C10 pipeline for one inbound event, serialized per
// (tenant, contact) via an internal key-routed mutex.
func (p *Processor) Process(ctx context.Context, in Inbound) (Outcome, error) {
	from, err := channel.Canonicalize(in.From)
	if err != nil {
		return Outcome{Stopped: "canonicalize", Reason: err.Error()}, nil
	}
	if p.selfNumber != "" && from == p.selfNumber {
		return Outcome{Stopped: "echo", Reason: "message from self"}, nil
	}

	lockKey := in.Tenant + ":" + from
	p.locks.Lock(lockKey)
	defer p.locks.Unlock(lockKey)

	// Step 1: idempotency.
	if in.ChannelMessageID != "" {
		if p.seenRecently(lockKey, in.ChannelMessageID) {
			return Outcome{Stopped: "idempotent", Reason: "duplicate channelMessageId (cache)"}, nil
		}
	}

	// Step 2: resolve/create.
	contact, err := p.contacts.GetOrCreate(ctx, in.Tenant, from)
	if err != nil {
		return Outcome{}, fmt.Errorf("message: get contact: %w", err)
	}
	conv, err := p.conversations.GetOrCreate(ctx, in.Tenant, contact.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("message: get conversation: %w", err)
	}

	if in.ChannelMessageID != "" {
		alreadySeen, err := p.messages.SeenChannelMessageID(ctx, conv.ID, in.ChannelMessageID)
		if err != nil {
			return Outcome{}, fmt.Errorf("message: idempotency check: %w", err)
		}
		if alreadySeen {
			return Outcome{Stopped: "idempotent", Reason: "duplicate channelMessageId (durable)"}, nil
		}
	}

	// Step 3: persist inbound message.
	inboundMsg := &domain.Message{
		ConversationID:   conv.ID,
		Role:             domain.RoleUser,
		Content:          in.Text,
		ChannelMessageID: in.ChannelMessageID,
		Status:           domain.StatusDelivered,
		CreatedAt:        in.At,
		StatusUpdatedAt:  in.At,
	}
	if err := p.messages.Insert(ctx, inboundMsg); err != nil {
		if err == store.ErrConflict {
			return Outcome{Stopped: "idempotent", Reason: "duplicate channelMessageId (insert conflict)"}, nil
		}
		return Outcome{}, fmt.Errorf("message: persist inbound: %w", err)
	}
	if err := p.conversations.TouchLastMessage(ctx, conv.ID, in.At); err != nil {
		slog.Warn("message.touch_last_message_failed", "conversation", conv.ID, "error", err)
	}

	firstContact := contact.ConversationCount == 0 && contact.TotalInteractions == 0

	// Step 4: update context.
	contact, err = p.ctx.ApplyTouch(ctx, in.Tenant, from, in.Text, nil)
	if err != nil {
		slog.Warn("message.context_update_failed", "contact", contact.ID, "error", err)
	}
	p.applyExtraction(ctx, in.Tenant, from, contact, in.Text)

	// Step 5: gating.
	if !conv.BotEnabled {
		return Outcome{Stopped: "bot_disabled", Reason: "conversation has bot disabled (handover in progress)"}, nil
	}

	history, err := p.messages.RecentHistory(ctx, conv.ID, recentHistoryLimit)
	if err != nil {
		return Outcome{}, fmt.Errorf("message: recent history: %w", err)
	}

	// Step 6: handover check.
	if p.handoverClass != nil {
		result := p.handoverClass.Classify(ctx, in.Tenant, in.Text, summarizeHistory(history))
		if result.RequiresHuman && result.Confidence >= 0.6 {
			now := time.Now()
			if err := p.conversations.SetHandover(ctx, conv.ID, true, now); err != nil {
				return Outcome{}, fmt.Errorf("message: set handover: %w", err)
			}
			ack := "Thanks for letting us know — a team member will be with you shortly."
			p.sendAndPersist(ctx, in.Tenant, conv.ID, from, ack)
			return Outcome{Stopped: "handover", Reason: result.Reason, ReplyText: ack}, nil
		}
	}

	// Step 7: lead qualification.
	var offerDiscoveryCall bool
	if p.leadQualifier != nil {
		assessment, err := p.leadQualifier.Assess(ctx, in.Tenant, in.Text, len(history), summarizeHistory(history))
		if err != nil {
			slog.Warn("message.lead_qualification_failed", "contact", contact.ID, "error", err)
		} else if assessment.Qualified {
			newStatus := "qualified"
			p.contacts.Update(ctx, in.Tenant, from, store.ContactFields{LeadStatus: &newStatus})
			if p.leadQualifier.ShouldOfferDiscoveryCall(contact.ID, time.Now()) {
				offerDiscoveryCall = true
			}
		}
	}

	// Step 8: generate reply.
	strategy := personalize.Plan(contact)
	state, _ := p.ctx.ConversationState(ctx, contact.ID)
	var unresolved []string
	if state != nil {
		unresolved = state.UnresolvedQuestions
	}

	reply, err := p.rag.Generate(ctx, rag.Request{
		Tenant:              in.Tenant,
		Contact:             contact,
		Strategy:            strategy,
		History:             history,
		Utterance:           in.Text,
		UnresolvedQuestions: unresolved,
		FirstContact:        firstContact,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("message: generate reply: %w", err)
	}
	replyText := reply.Text
	if offerDiscoveryCall {
		replyText = p.rag.AppendDiscoveryCallCTA(replyText, strategy.CTAType)
	}

	// Step 9: send with retry.
	p.sendAndPersist(ctx, in.Tenant, conv.ID, from, replyText)

	return Outcome{ReplyText: replyText}, nil
}

// applyExtraction writes only the fields the extractor is allowed to write:
// a scalar field is included in the update solely when ShouldOverwrite
// clears it against contact's recorded confidence for that field (§4.5,
// §8 property 9), so a heuristic fallback extraction can never clobber a
// value an earlier explicit extraction already set.
func (p *Processor) applyExtraction(ctx context.Context, tenant, phone string, contact *domain.Contact, utterance string) {
	if p.extractor == nil {
		return
	}
	fields := p.extractor.Extract(ctx, tenant, utterance)
	if len(fields) == 0 {
		return
	}
	update := store.ContactFields{FieldConfidence: map[string]int{}}

	set := func(field extraction.Field, apply func(v extraction.Value)) {
		v, ok := fields[field]
		if !ok {
			return
		}
		_, hasExisting := contact.FieldConfidence[string(field)]
		existing := extraction.Confidence(contact.FieldConfidence[string(field)])
		if !extraction.ShouldOverwrite(hasExisting, existing, v.Confidence) {
			return
		}
		apply(v)
		update.FieldConfidence[string(field)] = int(v.Confidence)
	}

	set(extraction.FieldName, func(v extraction.Value) { s := v.Raw.(string); update.Name = &s })
	set(extraction.FieldCompany, func(v extraction.Value) { s := v.Raw.(string); update.Company = &s })
	set(extraction.FieldEmail, func(v extraction.Value) { s := v.Raw.(string); update.Email = &s })
	set(extraction.FieldIndustryFocus, func(v extraction.Value) { s := v.Raw.(string); update.IndustryFocus = &s })
	set(extraction.FieldCompanySize, func(v extraction.Value) { s := v.Raw.(string); update.CompanySize = &s })
	set(extraction.FieldBudgetRange, func(v extraction.Value) { s := v.Raw.(string); update.BudgetRange = &s })
	set(extraction.FieldTimeline, func(v extraction.Value) { s := v.Raw.(string); update.Timeline = &s })
	set(extraction.FieldTechnicalLevel, func(v extraction.Value) {
		lvl := domain.TechnicalLevel(v.Raw.(string))
		update.TechnicalLevel = &lvl
	})
	set(extraction.FieldDecisionMaker, func(v extraction.Value) { b := v.Raw.(bool); update.DecisionMaker = &b })

	// List fields are set-merged by Update, never overwritten, so the
	// confidence invariant doesn't apply to them.
	if v, ok := fields[extraction.FieldCurrentTools]; ok {
		// Contact has no dedicated currentTools slot; mentioned tools are
		// topics worth remembering, so they join TopicsDiscussed.
		update.TopicsDiscussed, _ = v.Raw.([]string)
	}
	if v, ok := fields[extraction.FieldPainPointsMentioned]; ok {
		update.PainPointsMentioned, _ = v.Raw.([]string)
	}
	if v, ok := fields[extraction.FieldGoalsExpressed]; ok {
		update.GoalsExpressed, _ = v.Raw.([]string)
	}

	if len(update.FieldConfidence) == 0 {
		update.FieldConfidence = nil
	}
	if _, err := p.contacts.Update(ctx, tenant, phone, update); err != nil {
		slog.Warn("message.extraction_update_failed", "tenant", tenant, "error", err)
	}
}

// sendAndPersist sends text via the channel client with a bounded retry
// (3x, §4.10 step 9) and persists exactly one outbound assistant Message
// reflecting the final outcome: sent with its channelMessageId, or failed
// with the error reason (§7).
func (p *Processor) sendAndPersist(ctx context.Context, tenant, conversationID, to, text string) {
	now := time.Now()
	channelMessageID, err := retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2}, func() (string, error) {
		id, _, sendErr := p.channel.SendText(ctx, tenant, to, text)
		return id, sendErr
	})

	out := &domain.Message{
		ConversationID:  conversationID,
		Role:            domain.RoleAssistant,
		Content:         text,
		CreatedAt:       now,
		StatusUpdatedAt: time.Now(),
	}
	if err != nil {
		out.Status = domain.StatusFailed
		out.ErrorReason = err.Error()
		slog.Error("message.send_failed", "conversation", conversationID, "error", err)
	} else {
		out.ChannelMessageID = channelMessageID
		out.Status = domain.StatusSent
	}

	if insertErr := p.messages.Insert(ctx, out); insertErr != nil && insertErr != store.ErrConflict {
		slog.Error("message.persist_outbound_failed", "conversation", conversationID, "error", insertErr)
	}
}

// seenRecently reports whether channelMessageID has already been observed
// for lockKey, marking it seen as a side effect. This is the in-process LRU
// layer of §4.10 step 1; the durable check against MessageStore follows.
func (p *Processor) seenRecently(lockKey, channelMessageID string) bool {
	p.echoMu.Lock()
	defer p.echoMu.Unlock()
	key := lockKey + ":" + channelMessageID
	if _, ok := p.echoSeen.Get(key); ok {
		return true
	}
	p.echoSeen.Add(key, struct{}{})
	return false
}

func summarizeHistory(history []*domain.Message) string {
	if len(history) == 0 {
		return "no prior messages"
	}
	return strconv.Itoa(len(history)) + " prior messages"
}
