package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// maxTextRunes is the Messaging API limit for a text message.
const maxTextRunes = 5000

// ErrorDetail is one field-level problem reported by the Messaging API.
type ErrorDetail = messaging_api.ErrorDetail

// APIError is a non-2xx response from the Messaging API.
type APIError struct {
	StatusCode int
	Message    string
	Details    []ErrorDetail
}

func (e *APIError) Error() string {
	return fmt.Sprintf("line: unexpected status %d: %s", e.StatusCode, e.Message)
}

// Client sends reply messages through the LINE Messaging API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// WithContext on the SDK client mutates it, so calls are serialized.
	mu  sync.Mutex
	api *messaging_api.MessagingApiAPI
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewClient(accessToken string, opts ...Option) (*Client, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, errors.New("line: channel access token must not be empty")
	}
	c := &Client{httpClient: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}

	apiOpts := []messaging_api.MessagingApiAPIOption{messaging_api.WithHTTPClient(c.httpClient)}
	if c.baseURL != "" {
		apiOpts = append(apiOpts, messaging_api.WithEndpoint(c.baseURL))
	}
	api, err := messaging_api.NewMessagingApiAPI(accessToken, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("line: create messaging api client: %w", err)
	}
	c.api = api
	return c, nil
}

// ReplyText answers an event with a single text message. Reply tokens are
// single-use.
func (c *Client) ReplyText(ctx context.Context, replyToken, text string) error {
	if replyToken == "" {
		return errors.New("line: reply token must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res, _, err := c.api.WithContext(ctx).ReplyMessageWithHttpInfo(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: truncateRunes(text, maxTextRunes)},
		},
	})
	if err == nil {
		return nil
	}
	if res == nil {
		return fmt.Errorf("line: send reply: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	apiErr := &APIError{StatusCode: res.StatusCode, Message: err.Error()}
	var body messaging_api.ErrorResponse
	if jsonErr := json.NewDecoder(res.Body).Decode(&body); jsonErr == nil && body.Message != "" {
		apiErr.Message = body.Message
		apiErr.Details = body.Details
	}
	return apiErr
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
