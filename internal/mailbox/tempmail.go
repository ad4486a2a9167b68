package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Provider hands out disposable inboxes and the mail delivered to them.
type Provider interface {
	CreateInbox(ctx context.Context) (Inbox, error)
	ListEmails(ctx context.Context, inboxToken string) ([]Email, error)
	WaitForCode(ctx context.Context, inboxToken string) (string, error)
}

// Inbox is one disposable mailbox.
type Inbox struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

// Email is one delivered message.
type Email struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    string `json:"html"`
}

// Verification codes are 6-character alphanumeric tokens (e.g. CBV85U).
var codePattern = regexp.MustCompile(`\b([A-Z0-9]{6})\b`)

const pollInterval = 3 * time.Second

// Client talks to the tempmail.lol API.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewClient creates a tempmail client with optional proxy support.
func NewClient(baseURL, apiKey, proxyURL string) *Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse("http://" + strings.TrimPrefix(proxyURL, "http://")); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
		},
	}
}

// CreateInbox requests a fresh disposable mailbox.
func (c *Client) CreateInbox(ctx context.Context) (Inbox, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v2/inbox/create", nil)
	if err != nil {
		return Inbox{}, err
	}
	req.Header.Set("Authorization", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Inbox{}, fmt.Errorf("create inbox: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Inbox{}, fmt.Errorf("create inbox: status %d, body: %s", resp.StatusCode, string(body))
	}

	var inbox Inbox
	if err := json.NewDecoder(resp.Body).Decode(&inbox); err != nil {
		return Inbox{}, fmt.Errorf("decode inbox: %w", err)
	}
	if inbox.Address == "" {
		return Inbox{}, fmt.Errorf("create inbox: empty address in response")
	}
	return inbox, nil
}

// ListEmails fetches the current contents of an inbox.
func (c *Client) ListEmails(ctx context.Context, inboxToken string) ([]Email, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v2/inbox?token="+url.QueryEscape(inboxToken), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list emails: status %d", resp.StatusCode)
	}

	var result struct {
		Emails []Email `json:"emails"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode emails: %w", err)
	}
	return result.Emails, nil
}

// WaitForCode polls the inbox at a fixed interval until a verification code
// arrives or ctx ends. List failures are tolerated and retried on the next
// tick.
func (c *Client) WaitForCode(ctx context.Context, inboxToken string) (string, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		emails, err := c.ListEmails(ctx, inboxToken)
		if err != nil {
			log.Printf("[WARN] poll inbox: %v", err)
		}
		if code := ExtractCode(emails); code != "" {
			log.Printf("[INFO] verification code received: %s", code)
			return code, nil
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for verification code: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// ExtractCode scans emails for a verification message and returns the first
// 6-character code found, or "".
func ExtractCode(emails []Email) string {
	for _, e := range emails {
		subject := strings.ToLower(e.Subject)
		if !strings.Contains(subject, "code") && !strings.Contains(subject, "verify") {
			continue
		}
		body := e.Body
		if body == "" {
			body = e.HTML
		}
		if m := codePattern.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}
	return ""
}
