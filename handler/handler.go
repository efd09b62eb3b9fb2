package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"menu-bot/internal/integrations/line"
	"menu-bot/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	rejectMessage     = "Only webhooks from the LINE Platform will be accepted."
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, in usecase.MessageInput) (usecase.MessageOutput, error)
}

// Replier delivers the bot's answer for a reply token.
type Replier interface {
	ReplyText(ctx context.Context, replyToken, text string) error
}

// Handler is the API Gateway entry point for LINE webhook deliveries.
type Handler struct {
	uc            MessageHandler
	replier       Replier
	channelSecret string
	logger        *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

var newUUID = uuid.NewString

func NewHandler(uc MessageHandler, replier Replier, channelSecret string, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: message handler must not be nil")
	}
	if replier == nil {
		return nil, errors.New("handler: replier must not be nil")
	}
	if strings.TrimSpace(channelSecret) == "" {
		return nil, errors.New("handler: channel secret must not be empty")
	}
	h := &Handler{
		uc:            uc,
		replier:       replier,
		channelSecret: channelSecret,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle verifies the delivery signature, answers every text message event in
// order and acknowledges the delivery. Reply failures and undecodable bodies
// are logged only.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	logger := h.logger.With("correlation_id", correlationID)

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			logger.Warn("invalid base64 body", "err", err)
			return jsonResponse(http.StatusBadRequest, rejectMessage, correlationID), nil
		}
		body = decoded
	}
	logger.Info("webhook received", "body", string(body))

	signature := headerValue(event.Headers, line.SignatureHeader)
	callback, err := line.ParseCallback(h.channelSecret, signature, body)
	if errors.Is(err, line.ErrInvalidSignature) {
		logger.Warn("signature validation failed", "has_signature", signature != "")
		return jsonResponse(http.StatusBadRequest, rejectMessage, correlationID), nil
	}
	if err != nil {
		// Redelivering an undecodable body cannot succeed.
		logger.Warn("dropping undecodable webhook body", "err", err)
		return jsonResponse(http.StatusOK, "OK", correlationID), nil
	}

	for _, msg := range line.TextMessages(callback) {
		out, err := h.uc.HandleMessage(ctx, usecase.MessageInput{UserID: msg.UserID, Text: msg.Text})
		if err != nil {
			code, reason := usecase.ErrorInternal, "unexpected"
			var ucErr *usecase.Error
			if errors.As(err, &ucErr) {
				code, reason = ucErr.Code, ucErr.Reason
			}
			logger.Error("message handling failed", "user_id", msg.UserID, "code", code, "reason", reason, "err", err)
			return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(code)}, correlationID), nil
		}
		if err := h.replier.ReplyText(ctx, msg.ReplyToken, out.Reply); err != nil {
			logReplyError(logger, msg.UserID, err)
		}
	}

	return jsonResponse(http.StatusOK, "OK", correlationID), nil
}

func logReplyError(logger *slog.Logger, userID string, err error) {
	var apiErr *line.APIError
	if !errors.As(err, &apiErr) {
		logger.Error("reply failed", "user_id", userID, "err", err)
		return
	}
	logger.Error("reply rejected", "user_id", userID, "status", apiErr.StatusCode, "message", apiErr.Message)
	for _, d := range apiErr.Details {
		logger.Error("reply error detail", "property", d.Property, "message", d.Message)
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, v any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}
