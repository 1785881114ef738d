package pg

import (
	"fmt"

	"github.com/chatrelay/convoengine/internal/store"
)

// NewPGStores opens the Postgres connection pool and wires every store
// interface in store.Stores to its pg-backed implementation. This is the
// only place convoengine constructs a *sql.DB; every other package depends
// on the store interfaces (spec.md §9).
func NewPGStores(dsn string, encryptionKey string) (*store.Stores, *AdvisoryLock, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pg: open postgres: %w", err)
	}

	stores := &store.Stores{
		APIKeys:            NewAPIKeyStore(db, encryptionKey),
		Audit:              NewAuditLogStore(db),
		Contacts:           NewContactStore(db),
		Conversations:      NewConversationStore(db),
		Messages:           NewMessageStore(db),
		ConversationStates: NewConversationStateStore(db),
		Knowledge:          NewKnowledgeStore(db),
		ScheduledMessages:  NewScheduledMessageStore(db),
		Campaigns:          NewCampaignStore(db),
		WebhookEvents:      NewWebhookEventStore(db),
		Analytics:          NewAnalyticsStore(db),
	}
	return stores, NewAdvisoryLock(db), nil
}
