package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"menu-bot/internal/domain"
)

const (
	temperature       = 0.4
	toolChoiceAuto    = "auto"
	defaultDailyLimit = 12
)

type ParamLooker interface {
	LookupParameter(ctx context.Context, name string) (string, bool, error)
}

type LLMClient interface {
	Complete(ctx context.Context, in domain.CompletionRequest) (domain.Completion, error)
}

// Store is the record store consumed by the message flow.
type Store interface {
	GetUser(ctx context.Context, userID string) (domain.UserProfile, bool, error)
	CreateUser(ctx context.Context, profile domain.UserProfile) error
	IncrementUsage(ctx context.Context, userID, day string) (int, bool, error)
	UpdateUser(ctx context.Context, userID string, update domain.UserUpdate) error
	GetRecentTurns(ctx context.Context, userID string, count int) ([]domain.ConversationTurn, error)
	GetRecipesInRange(ctx context.Context, userID, start, end string) ([]domain.AdoptedRecipe, error)
	AppendTurn(ctx context.Context, turn domain.ConversationTurn) error
	AppendRecipe(ctx context.Context, recipe domain.AdoptedRecipe) error
}

// Options tunes a MessageService. Zero values fall back to defaults.
type Options struct {
	Model       string
	DailyLimit  int
	Location    *time.Location
	ParamPrefix string
	Logger      *slog.Logger
}

// MessageService answers one inbound chat message per call.
type MessageService struct {
	llm         LLMClient
	store       Store
	params      ParamLooker
	paramPrefix string
	dailyLimit  int
	location    *time.Location
	logger      *slog.Logger

	cacheMu     sync.RWMutex
	cacheLoaded bool
	persona     string
	model       string
}

type MessageInput struct {
	UserID string
	Text   string
}

type MessageOutput struct {
	Reply string
}

func NewMessageService(llm LLMClient, store Store, params ParamLooker, opts Options) (*MessageService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	prefix := strings.TrimRight(strings.TrimSpace(opts.ParamPrefix), "/")
	if prefix != "" && params == nil {
		return nil, errors.New("usecase: param looker must not be nil when a parameter prefix is set")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	s := &MessageService{
		llm:         llm,
		store:       store,
		params:      params,
		paramPrefix: prefix,
		dailyLimit:  opts.DailyLimit,
		location:    opts.Location,
		logger:      opts.Logger,
		persona:     defaultPersona,
		model:       model,
	}
	if s.dailyLimit <= 0 {
		s.dailyLimit = defaultDailyLimit
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	// Without a prefix there is nothing to load.
	s.cacheLoaded = prefix == ""
	return s, nil
}

// HandleMessage runs the full flow for one text message and returns the reply.
// Store and completion failures are returned as *Error; quota and missing
// profile conditions are ordinary replies.
func (s *MessageService) HandleMessage(ctx context.Context, in MessageInput) (MessageOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return MessageOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if strings.HasPrefix(in.Text, helpPrefix) {
		return MessageOutput{Reply: instructionsMessage(s.dailyLimit)}, nil
	}
	if err := s.ensureConfig(ctx); err != nil {
		return MessageOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}
	logger := s.logger.With("user_id", userID)

	// One timestamp for every record written by this message.
	now := timeNow().In(s.location)
	stamp := now.Format(timestampLayout)
	day := now.Format(time.DateOnly)

	profile, found, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return MessageOutput{}, newError(ErrorInternal, "dynamodb_get_user_error", err)
	}
	if !found {
		profile = domain.UserProfile{
			UserID:           userID,
			UserName:         defaultUserName,
			DislikedFoods:    defaultDislikedFoods,
			UsageDate:        day,
			RegistrationDate: stamp,
			UpdateDate:       stamp,
		}
		if err := s.store.CreateUser(ctx, profile); err != nil {
			return MessageOutput{}, newError(ErrorInternal, "dynamodb_create_user_error", err)
		}
		logger.Info("registered new user")
	}

	usage, found, err := s.store.IncrementUsage(ctx, userID, day)
	if err != nil {
		return MessageOutput{}, newError(ErrorInternal, "dynamodb_increment_usage_error", err)
	}
	if !found {
		logger.Warn("profile vanished before usage increment")
		return MessageOutput{Reply: profileMissingMessage}, nil
	}
	if usage >= s.dailyLimit {
		logger.Info("daily limit reached", "usage", usage, "limit", s.dailyLimit)
		return MessageOutput{Reply: limitReachedMessage}, nil
	}

	turns, err := s.store.GetRecentTurns(ctx, userID, historySize)
	if err != nil {
		return MessageOutput{}, newError(ErrorInternal, "dynamodb_history_error", err)
	}

	persona, model := s.promptConfig()
	messages := buildPromptMessages(promptContext{
		persona:       persona,
		now:           stamp,
		userName:      orDefault(profile.UserName, defaultUserName),
		dislikedFoods: orDefault(profile.DislikedFoods, defaultDislikedFoods),
	}, historyWindow(turns), in.Text)

	first, err := s.llm.Complete(ctx, domain.CompletionRequest{
		Model:       model,
		Temperature: temperature,
		Messages:    messages,
		Tools:       toolCatalog(now),
		ToolChoice:  toolChoiceAuto,
	})
	if err != nil {
		return MessageOutput{}, upstreamError("openai", err)
	}
	logger.Info("completion response", "raw", first.Raw)

	answer := first.Content
	if len(first.ToolCalls) > 0 {
		// Only the first requested tool call is honored.
		requested := first.ToolCalls[0]
		if len(first.ToolCalls) > 1 {
			logger.Warn("ignoring extra tool calls", "count", len(first.ToolCalls))
		}
		call, err := decodeToolCall(requested, now)
		if err != nil {
			logger.Warn("skipping tool call", "tool", requested.Name, "err", err)
		} else {
			result, err := s.runTool(ctx, userID, now, call)
			if err != nil {
				return MessageOutput{}, newError(ErrorInternal, "dynamodb_tool_error", err)
			}
			logger.Info("tool executed", "tool", call.toolName())

			messages = append(messages,
				domain.ChatMessage{Role: domain.RoleAssistant, Content: first.Content, ToolCalls: []domain.ToolCall{requested}},
				domain.ChatMessage{Role: domain.RoleTool, Content: result, ToolCallID: requested.ID},
			)
			second, err := s.llm.Complete(ctx, domain.CompletionRequest{
				Model:       model,
				Temperature: temperature,
				Messages:    messages,
			})
			if err != nil {
				return MessageOutput{}, upstreamError("openai_followup", err)
			}
			logger.Info("follow-up completion response", "raw", second.Raw)
			answer = second.Content
		}
	}
	if strings.TrimSpace(answer) == "" {
		answer = fallbackAnswer
	}

	if err := s.store.AppendTurn(ctx, domain.ConversationTurn{
		UserID:  userID,
		Date:    stamp,
		Message: in.Text,
		Reply:   answer,
	}); err != nil {
		return MessageOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}

	return MessageOutput{Reply: answer}, nil
}

func (s *MessageService) promptConfig() (persona, model string) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.persona, s.model
}

// ensureConfig loads the prompt and model overrides from the parameter store
// once per process. A failed load is retried on the next message.
func (s *MessageService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	persona, ok, err := s.params.LookupParameter(ctx, s.paramPrefix+"/persona_prompt")
	if err != nil {
		return fmt.Errorf("usecase: load persona prompt: %w", err)
	}
	if ok && strings.TrimSpace(persona) != "" {
		s.persona = persona
	}
	model, ok, err := s.params.LookupParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return fmt.Errorf("usecase: load openai model: %w", err)
	}
	if ok && strings.TrimSpace(model) != "" {
		s.model = strings.TrimSpace(model)
	}
	s.cacheLoaded = true
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

var timeNow = time.Now
