package message

import (
	"context"
	"testing"
	"time"

	"github.com/chatrelay/convoengine/internal/channel"
	"github.com/chatrelay/convoengine/internal/contactctx"
	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/extraction"
	"github.com/chatrelay/convoengine/internal/handover"
	"github.com/chatrelay/convoengine/internal/knowledge"
	"github.com/chatrelay/convoengine/internal/leadqual"
	"github.com/chatrelay/convoengine/internal/llmclient"
	"github.com/chatrelay/convoengine/internal/rag"
	"github.com/chatrelay/convoengine/internal/store"
)

type fakeContacts struct {
	contacts map[string]*domain.Contact
}

func newFakeContacts() *fakeContacts { return &fakeContacts{contacts: map[string]*domain.Contact{}} }

func (f *fakeContacts) key(tenant, phone string) string { return tenant + ":" + phone }

func (f *fakeContacts) GetOrCreate(ctx context.Context, tenant, phone string) (*domain.Contact, error) {
	k := f.key(tenant, phone)
	if c, ok := f.contacts[k]; ok {
		return c, nil
	}
	c := domain.NewContact(tenant, phone)
	c.ID = k
	f.contacts[k] = c
	return c, nil
}
func (f *fakeContacts) Get(ctx context.Context, tenant, phone string) (*domain.Contact, error) {
	return f.GetOrCreate(ctx, tenant, phone)
}
func (f *fakeContacts) Update(ctx context.Context, tenant, phone string, fields store.ContactFields) (*domain.Contact, error) {
	c, _ := f.GetOrCreate(ctx, tenant, phone)
	if fields.JourneyStage != nil {
		c.JourneyStage = *fields.JourneyStage
	}
	if fields.LeadStatus != nil {
		c.LeadStatus = *fields.LeadStatus
	}
	if fields.Name != nil {
		c.Name = *fields.Name
	}
	if fields.Company != nil {
		c.Company = *fields.Company
	}
	if fields.BudgetRange != nil {
		c.BudgetRange = *fields.BudgetRange
	}
	if fields.IncrTotalInteractions {
		c.TotalInteractions++
	}
	if c.FieldConfidence == nil {
		c.FieldConfidence = map[string]int{}
	}
	for field, conf := range fields.FieldConfidence {
		c.FieldConfidence[field] = conf
	}
	return c, nil
}

type fakeConversations struct {
	convs map[string]*domain.Conversation
	seq   int
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{convs: map[string]*domain.Conversation{}}
}

func (f *fakeConversations) GetOrCreate(ctx context.Context, tenant, contactID string) (*domain.Conversation, error) {
	if c, ok := f.convs[contactID]; ok {
		return c, nil
	}
	f.seq++
	c := domain.NewConversation(tenant, contactID)
	c.ID = contactID + "-conv"
	f.convs[contactID] = c
	return c, nil
}
func (f *fakeConversations) Get(ctx context.Context, tenant, contactID string) (*domain.Conversation, error) {
	return f.convs[contactID], nil
}
func (f *fakeConversations) SetBotEnabled(ctx context.Context, id string, enabled bool) error {
	for _, c := range f.convs {
		if c.ID == id {
			c.BotEnabled = enabled
		}
	}
	return nil
}
func (f *fakeConversations) SetHandover(ctx context.Context, id string, requested bool, at time.Time) error {
	for _, c := range f.convs {
		if c.ID == id {
			c.HandoverRequested = requested
			c.BotEnabled = false
			c.HandoverTimestamp = &at
		}
	}
	return nil
}
func (f *fakeConversations) ResolveHandover(ctx context.Context, id string, reason string) error { return nil }
func (f *fakeConversations) CompareAndSetUpdateSent(ctx context.Context, id, stageTag string, at time.Time) (bool, error) {
	return true, nil
}
func (f *fakeConversations) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (f *fakeConversations) ListForRescue(ctx context.Context) ([]*domain.Conversation, error) {
	var out []*domain.Conversation
	for _, c := range f.convs {
		out = append(out, c)
	}
	return out, nil
}

type fakeMessages struct {
	byChannelID map[string]bool
	inserted    []*domain.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{byChannelID: map[string]bool{}}
}

func (f *fakeMessages) Insert(ctx context.Context, msg *domain.Message) error {
	if msg.ChannelMessageID != "" {
		if f.byChannelID[msg.ChannelMessageID] {
			return store.ErrConflict
		}
		f.byChannelID[msg.ChannelMessageID] = true
	}
	f.inserted = append(f.inserted, msg)
	return nil
}
func (f *fakeMessages) SeenChannelMessageID(ctx context.Context, conversationID, channelMessageID string) (bool, error) {
	return f.byChannelID[channelMessageID], nil
}
func (f *fakeMessages) UpdateStatus(ctx context.Context, channelMessageID string, to domain.MessageStatus, errorReason string) error {
	return nil
}
func (f *fakeMessages) RecentHistory(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	return nil, nil
}
func (f *fakeMessages) CountSince(ctx context.Context, conversationID string, since time.Time) (int, error) {
	return 0, nil
}

type fakeStates struct{}

func (fakeStates) Get(ctx context.Context, contactID string) (*domain.ConversationState, error) {
	return &domain.ConversationState{ContactID: contactID}, nil
}
func (fakeStates) SetTopic(ctx context.Context, contactID, topic string) error { return nil }
func (fakeStates) AddQuestion(ctx context.Context, contactID, question string) error { return nil }
func (fakeStates) ResolveQuestion(ctx context.Context, contactID, question string) error { return nil }
func (fakeStates) AddActionItem(ctx context.Context, contactID, item string) error { return nil }
func (fakeStates) MergeContextContinuity(ctx context.Context, contactID string, kv map[string]string) error {
	return nil
}

type fakeCompleter struct{ text string }

func (f fakeCompleter) CompleteChat(ctx context.Context, tenant string, messages []llmclient.Message, params llmclient.Params) (string, llmclient.Usage, error) {
	return f.text, llmclient.Usage{}, nil
}

type emptySearcher struct{}

func (emptySearcher) Search(ctx context.Context, tenant, query string, opts knowledge.SearchOptions) ([]store.ScoredDocument, error) {
	return nil, nil
}

func newTestProcessor(t *testing.T) (*Processor, *fakeMessages) {
	t.Helper()
	msgs := newFakeMessages()
	contacts := newFakeContacts()
	convs := newFakeConversations()

	chSrv := newFakeChannelServer()
	t.Cleanup(chSrv.Close)

	cl := channel.New(chSrv.URL, "test-token", channel.NewRateLimiter(1000, 10000))
	ragHandler := rag.New(fakeCompleter{text: "Thanks for your message!"}, emptySearcher{}, "model-x", "", nil)

	return New(Config{
		Contacts:      contacts,
		Conversations: convs,
		Messages:      msgs,
		ContactCtx:    contactctx.New(contacts, fakeStates{}),
		Extractor:     extraction.New(nil),
		Handover:      handover.New(nil),
		LeadQualifier: leadqual.New(fakeCompleter{text: `{"score":0,"confidence":0}`}, time.Hour),
		RAG:           ragHandler,
		Channel:       cl,
	}), msgs
}

func TestProcessGreetingPersistsInboundAndReply(t *testing.T) {
	p, msgs := newTestProcessor(t)

	outcome, err := p.Process(context.Background(), Inbound{
		Tenant:           "acme",
		From:             "15551234567",
		ChannelMessageID: "msg-1",
		Text:             "Hi",
		At:               time.Now(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Stopped != "" {
		t.Fatalf("expected full pipeline completion, stopped at %q: %s", outcome.Stopped, outcome.Reason)
	}
	if len(msgs.inserted) != 2 {
		t.Fatalf("expected inbound+outbound messages persisted, got %d", len(msgs.inserted))
	}
}

func TestProcessIdempotentOnDuplicateChannelMessageID(t *testing.T) {
	p, msgs := newTestProcessor(t)
	in := Inbound{Tenant: "acme", From: "15551234567", ChannelMessageID: "dup-1", Text: "Hello there", At: time.Now()}

	if _, err := p.Process(context.Background(), in); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	firstCount := len(msgs.inserted)

	outcome, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if outcome.Stopped != "idempotent" {
		t.Fatalf("expected idempotent short-circuit, got %+v", outcome)
	}
	if len(msgs.inserted) != firstCount {
		t.Fatalf("expected no additional messages persisted, had %d now %d", firstCount, len(msgs.inserted))
	}
}

func TestApplyExtractionKeepsHigherConfidenceValue(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()
	tenant, phone := "acme", "15551230000"

	contact, err := p.contacts.GetOrCreate(ctx, tenant, phone)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	explicit := "Explicit Co"
	contact, err = p.contacts.Update(ctx, tenant, phone, store.ContactFields{
		Company:         &explicit,
		FieldConfidence: map[string]int{string(extraction.FieldCompany): int(extraction.ConfidenceExplicit)},
	})
	if err != nil {
		t.Fatalf("seed update: %v", err)
	}

	// "i work at" phrasing drives the regex fallback extractor (no LLM
	// wired), which always tags company at ConfidenceHeuristic.
	p.applyExtraction(ctx, tenant, phone, contact, "hey, i work at Acme Corp these days")

	got, err := p.contacts.Get(ctx, tenant, phone)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Company != explicit {
		t.Fatalf("expected heuristic re-extraction to leave explicit company untouched, got %q", got.Company)
	}
}

func TestProcessHandoverStopsPipeline(t *testing.T) {
	p, _ := newTestProcessor(t)

	outcome, err := p.Process(context.Background(), Inbound{
		Tenant:           "acme",
		From:             "15559876543",
		ChannelMessageID: "msg-handover",
		Text:             "I want to speak to a human agent",
		At:               time.Now(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Stopped != "handover" {
		t.Fatalf("expected handover stop, got %+v", outcome)
	}
}
