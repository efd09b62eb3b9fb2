package line

import (
	"encoding/json"
	"fmt"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the request body.
const SignatureHeader = "x-line-signature"

var ErrInvalidSignature = webhook.ErrInvalidSignature

// TextMessage is a text message event reduced to what the bot needs.
type TextMessage struct {
	UserID     string
	ReplyToken string
	Text       string
}

// ParseCallback verifies the delivery signature and decodes the body. It is
// webhook.ParseRequest for bodies that do not arrive as an *http.Request.
func ParseCallback(channelSecret, signature string, body []byte) (*webhook.CallbackRequest, error) {
	if channelSecret == "" || !webhook.ValidateSignature(channelSecret, signature, body) {
		return nil, ErrInvalidSignature
	}
	var cb webhook.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("line: decode callback: %w", err)
	}
	return &cb, nil
}

// TextMessages returns the text message events that can be answered: a user
// source and a reply token are both required. Everything else is skipped.
func TextMessages(cb *webhook.CallbackRequest) []TextMessage {
	if cb == nil {
		return nil
	}
	var out []TextMessage
	for _, event := range cb.Events {
		e, ok := event.(webhook.MessageEvent)
		if !ok {
			continue
		}
		text, ok := e.Message.(webhook.TextMessageContent)
		if !ok {
			continue
		}
		userID := sourceUserID(e.Source)
		if userID == "" || e.ReplyToken == "" {
			continue
		}
		out = append(out, TextMessage{
			UserID:     userID,
			ReplyToken: e.ReplyToken,
			Text:       text.Text,
		})
	}
	return out
}

func sourceUserID(source webhook.SourceInterface) string {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	}
	return ""
}
