// Package channel implements the Channel Gateway Client (C1, spec.md §4.1):
// an HTTP client to the chat-channel API with retry/backoff, per-tenant
// rate limiting, and the canonical phone-number form resolved once here at
// the tenant boundary (spec.md §9 open question).
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chatrelay/convoengine/internal/retry"
)

const (
	maxFragmentChars = 600
	maxFragmentLines = 30
	maxTotalChars    = 4000

	callTimeout = 30 * time.Second
)

// SendStatus is the channel-reported status for a just-submitted message.
type SendStatus string

const (
	StatusAccepted SendStatus = "accepted"
	StatusQueued   SendStatus = "queued"
)

// Client is the Channel Gateway Client (C1).
type Client struct {
	baseURL     string
	token       string
	http        *http.Client
	limiter     *RateLimiter
	retryConfig retry.Config
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (tests inject a
// mock transport this way).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Channel Gateway Client.
func New(baseURL, token string, limiter *RateLimiter, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		http:        &http.Client{Timeout: callTimeout},
		limiter:     limiter,
		retryConfig: retry.DefaultConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// Canonicalize reduces a phone number to digits-only, country-code-prefixed
// form, stripping any "+", separators, or channel-specific JID suffix
// (e.g. "1234@c.us"). This is the single place the canonical form is
// enforced, per spec.md §9.
func Canonicalize(raw string) (string, error) {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) < 8 {
		return "", newInvalidRecipient("too few digits: " + raw)
	}
	return digits, nil
}

// SplitFragments packs body into outbound fragments honoring the
// paragraph/line/char packing rule of §4.1: at most 30 lines or 600 chars
// per fragment, and at most 4000 total chars (silently truncated beyond
// that; the caller is expected to have already limited reply length).
func SplitFragments(body string) []string {
	if len(body) > maxTotalChars {
		body = body[:maxTotalChars]
	}
	paragraphs := strings.Split(body, "\n\n")

	var fragments []string
	var cur strings.Builder
	curLines := 0

	flush := func() {
		if cur.Len() > 0 {
			fragments = append(fragments, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			curLines = 0
		}
	}

	for _, p := range paragraphs {
		lines := strings.Split(p, "\n")
		for _, ln := range lines {
			for len(ln) > maxFragmentChars {
				cut := maxFragmentChars
				for cut > 0 && !utf8.RuneStart(ln[cut]) {
					cut--
				}
				flush()
				fragments = append(fragments, ln[:cut])
				ln = ln[cut:]
			}
			if curLines >= maxFragmentLines || cur.Len()+len(ln)+1 > maxFragmentChars {
				flush()
			}
			cur.WriteString(ln)
			cur.WriteByte('\n')
			curLines++
		}
		cur.WriteByte('\n')
	}
	flush()

	if len(fragments) == 0 {
		return []string{""}
	}
	return fragments
}

type sendRequest struct {
	To            string `json:"to"`
	Text          string `json:"text,omitempty"`
	ImageURL      string `json:"imageUrl,omitempty"`
	VideoURL      string `json:"videoUrl,omitempty"`
	DocumentURL   string `json:"documentUrl,omitempty"`
	AudioURL      string `json:"audioUrl,omitempty"`
	Caption       string `json:"caption,omitempty"`
}

type sendResponseEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		MsgID  string `json:"msgId"`
		Status string `json:"status"`
	} `json:"data"`
}

// SendText sends body to `to`, splitting it into channel-safe fragments and
// returning the channelMessageId of the last fragment sent.
func (c *Client) SendText(ctx context.Context, tenant, to, body string) (string, SendStatus, error) {
	to, err := Canonicalize(to)
	if err != nil {
		return "", "", err
	}

	var lastID string
	var lastStatus SendStatus
	for _, fragment := range SplitFragments(body) {
		id, status, err := c.send(ctx, tenant, sendRequest{To: to, Text: fragment})
		if err != nil {
			return "", "", err
		}
		lastID, lastStatus = id, status
	}
	return lastID, lastStatus, nil
}

// MediaKind selects which media URL field is populated in SendMedia.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
)

// SendMedia sends a media attachment with an optional caption.
func (c *Client) SendMedia(ctx context.Context, tenant, to string, kind MediaKind, url, caption string) (string, SendStatus, error) {
	to, err := Canonicalize(to)
	if err != nil {
		return "", "", err
	}
	req := sendRequest{To: to, Caption: caption}
	switch kind {
	case MediaImage:
		req.ImageURL = url
	case MediaVideo:
		req.VideoURL = url
	case MediaDocument:
		req.DocumentURL = url
	case MediaAudio:
		req.AudioURL = url
	default:
		return "", "", fmt.Errorf("channel: unknown media kind %q", kind)
	}
	return c.send(ctx, tenant, req)
}

func (c *Client) send(ctx context.Context, tenant string, req sendRequest) (string, SendStatus, error) {
	if err := c.limiter.Wait(ctx, tenant); err != nil {
		return "", "", err
	}

	type result struct {
		id     string
		status SendStatus
	}

	r, err := retry.Do(ctx, c.retryConfig, func() (result, error) {
		body, err := json.Marshal(req)
		if err != nil {
			return result{}, fmt.Errorf("channel: marshal send request: %w", err)
		}

		resp, err := c.doRequest(ctx, http.MethodPost, "/send-message", body)
		if err != nil {
			return result{}, err
		}
		defer resp.Close()

		var env sendResponseEnvelope
		if err := json.NewDecoder(resp).Decode(&env); err != nil {
			return result{}, fmt.Errorf("channel: decode send response: %w", err)
		}
		return result{id: env.Data.MsgID, status: SendStatus(env.Data.Status)}, nil
	})
	if err != nil {
		return "", "", err
	}
	return r.id, r.status, nil
}

// GroupInfo describes a channel group for target-expansion (campaigns,
// scheduled messages).
type GroupInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// ContactInfo describes a channel contact.
type ContactInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
}

// ListGroups lists the channel groups visible to this tenant's session.
func (c *Client) ListGroups(ctx context.Context, tenant string) ([]GroupInfo, error) {
	resp, err := retry.Do(ctx, c.retryConfig, func() (io.ReadCloser, error) {
		return c.doRequest(ctx, http.MethodGet, "/groups", nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	var groups []GroupInfo
	if err := json.NewDecoder(resp).Decode(&groups); err != nil {
		return nil, fmt.Errorf("channel: decode groups: %w", err)
	}
	return groups, nil
}

// ListContacts lists the channel contacts visible to this tenant's session.
func (c *Client) ListContacts(ctx context.Context, tenant string) ([]ContactInfo, error) {
	resp, err := retry.Do(ctx, c.retryConfig, func() (io.ReadCloser, error) {
		return c.doRequest(ctx, http.MethodGet, "/contacts", nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	var contacts []ContactInfo
	if err := json.NewDecoder(resp).Decode(&contacts); err != nil {
		return nil, fmt.Errorf("channel: decode contacts: %w", err)
	}
	return contacts, nil
}

// SessionStatus reports whether the tenant's channel session is connected.
type SessionStatus struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

// GetSessionStatus reports the current connection state of the channel
// session backing this tenant.
func (c *Client) GetSessionStatus(ctx context.Context, tenant string) (*SessionStatus, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	var status SessionStatus
	if err := json.NewDecoder(resp).Decode(&status); err != nil {
		return nil, fmt.Errorf("channel: decode status: %w", err)
	}
	return &status, nil
}

// doRequest performs one HTTP call and classifies the response per §4.1's
// failure taxonomy, translating HTTP status into the typed errors other
// components branch on instead of catching exceptions (§9).
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (io.ReadCloser, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("channel: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newTransient(err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := 10 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		resp.Body.Close()
		return nil, newRateLimited(wait)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, newUnauthorized(string(data))
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get("X-Session-State") == "disconnected":
		defer resp.Body.Close()
		return nil, newSessionDisconnected(resp.Status)
	case resp.StatusCode >= 500:
		defer resp.Body.Close()
		return nil, newTransient(resp.Status)
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, newInvalidRecipient(string(data))
	case resp.StatusCode >= 400:
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("channel: unexpected status %s: %s", resp.Status, string(data))
	}

	slog.Debug("channel.request_ok", "method", method, "path", path, "status", resp.StatusCode)
	return resp.Body, nil
}
