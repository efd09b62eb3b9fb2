// Package app wires the webhook handler from process configuration. Both the
// Lambda entry point and the local runner build their handler here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"menu-bot/handler"
	"menu-bot/internal/config"
	"menu-bot/internal/integrations/line"
	"menu-bot/internal/integrations/openai"
	"menu-bot/internal/integrations/paramstore"
	"menu-bot/internal/repository"
	"menu-bot/internal/usecase"
)

func NewWebhookHandler(ctx context.Context, cfg config.Config, logger *slog.Logger) (*handler.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), repository.Tables{
		Users:   cfg.UserTable,
		Turns:   cfg.TalkTable,
		Recipes: cfg.RecipeTable,
	}, repository.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("app: create store: %w", err)
	}

	llm, err := openai.NewClient(cfg.OpenAIAPIKey, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}

	replier, err := line.NewClient(cfg.ChannelAccessToken, line.WithBaseURL(cfg.LineBaseURL))
	if err != nil {
		return nil, fmt.Errorf("app: create LINE client: %w", err)
	}

	// A nil *paramstore.Client must not leak into the interface.
	var params usecase.ParamLooker
	if cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		params = ssmClient
	}

	svc, err := usecase.NewMessageService(llm, store, params, usecase.Options{
		Model:       cfg.OpenAIModel,
		DailyLimit:  cfg.DailyLimit,
		Location:    cfg.Location,
		ParamPrefix: cfg.ParamPrefix,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create message service: %w", err)
	}

	return handler.NewHandler(svc, replier, cfg.ChannelSecret, handler.WithLogger(logger))
}
