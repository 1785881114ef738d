package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
)

type fakeEvents struct{ entries []*domain.WebhookEvent }

func (f *fakeEvents) Append(ctx context.Context, evt *domain.WebhookEvent) error {
	f.entries = append(f.entries, evt)
	return nil
}

type fakeMessages struct {
	updated map[string]domain.MessageStatus
}

func newFakeMessages() *fakeMessages { return &fakeMessages{updated: map[string]domain.MessageStatus{}} }

func (f *fakeMessages) Insert(ctx context.Context, msg *domain.Message) error { return nil }
func (f *fakeMessages) SeenChannelMessageID(ctx context.Context, conversationID, channelMessageID string) (bool, error) {
	return false, nil
}
func (f *fakeMessages) UpdateStatus(ctx context.Context, channelMessageID string, to domain.MessageStatus, errorReason string) error {
	f.updated[channelMessageID] = to
	return nil
}
func (f *fakeMessages) RecentHistory(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	return nil, nil
}
func (f *fakeMessages) CountSince(ctx context.Context, conversationID string, since time.Time) (int, error) {
	return 0, nil
}

func TestServeHTTPBadJSON(t *testing.T) {
	r := New(&fakeEvents{}, newFakeMessages(), 8)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestServeHTTPUnknownEventIgnored(t *testing.T) {
	r := New(&fakeEvents{}, newFakeMessages(), 8)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"event":"some.other.event","data":{}}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown event, got %d", w.Code)
	}
}

func TestServeHTTPMessagesUpsertEnqueues(t *testing.T) {
	r := New(&fakeEvents{}, newFakeMessages(), 8)
	body := `{"event":"messages.upsert","data":{"tenant":"acme","from":"15551234567","channelMessageId":"m1","text":"hi"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	select {
	case in := <-r.Queue():
		if in.Tenant != "acme" || in.Text != "hi" {
			t.Fatalf("unexpected queued inbound: %+v", in)
		}
	default:
		t.Fatal("expected inbound event to be queued")
	}
}

func TestServeHTTPQueueOverflowReturns503(t *testing.T) {
	r := New(&fakeEvents{}, newFakeMessages(), 1)
	body := `{"event":"messages.upsert","data":{"tenant":"acme","from":"15551234567","channelMessageId":"m1","text":"hi"}}`

	req1 := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	r.ServeHTTP(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on queue overflow, got %d", w2.Code)
	}
}

func TestServeHTTPMessageReceiptUpdatesStatus(t *testing.T) {
	msgs := newFakeMessages()
	r := New(&fakeEvents{}, msgs, 8)
	body := `{"event":"message-receipt.update","data":{"tenant":"acme","channelMessageId":"m1","status":"delivered"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if msgs.updated["m1"] != domain.StatusDelivered {
		t.Fatalf("expected delivered status update, got %v", msgs.updated["m1"])
	}
}
