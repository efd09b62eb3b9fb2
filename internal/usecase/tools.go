package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"menu-bot/internal/domain"
)

const (
	toolUpdateUserName      = "update_user_name"
	toolUpdateDislikedFoods = "update_disliked_foods"
	toolRecordAdoptedRecipe = "record_adopted_recipe"
	toolGetPastRecipes      = "get_past_recipes"
)

// timestampLayout is fixed-width so that lexical order of stored dates is
// chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000-07:00"

// toolCall is one of the four tool invocations the model may request.
type toolCall interface {
	toolName() string
}

type renameUser struct {
	UserName string `json:"user_name"`
}

type recordDislikedFoods struct {
	DislikedFoods string `json:"disliked_foods"`
}

type recordAdoptedRecipe struct {
	Recipe string `json:"recipe"`
}

type fetchPastRecipes struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (renameUser) toolName() string          { return toolUpdateUserName }
func (recordDislikedFoods) toolName() string { return toolUpdateDislikedFoods }
func (recordAdoptedRecipe) toolName() string { return toolRecordAdoptedRecipe }
func (fetchPastRecipes) toolName() string    { return toolGetPastRecipes }

// decodeToolCall turns the model's request into a typed tool call. Recipe
// ranges are resolved against now.
func decodeToolCall(tc domain.ToolCall, now time.Time) (toolCall, error) {
	var (
		call toolCall
		err  error
	)
	switch tc.Name {
	case toolUpdateUserName:
		var args renameUser
		err = decodeArgs(tc.Arguments, &args)
		if err == nil && strings.TrimSpace(args.UserName) == "" {
			err = errors.New("user_name is empty")
		}
		call = args
	case toolUpdateDislikedFoods:
		var args recordDislikedFoods
		err = decodeArgs(tc.Arguments, &args)
		if err == nil && strings.TrimSpace(args.DislikedFoods) == "" {
			err = errors.New("disliked_foods is empty")
		}
		call = args
	case toolRecordAdoptedRecipe:
		var args recordAdoptedRecipe
		err = decodeArgs(tc.Arguments, &args)
		if err == nil && strings.TrimSpace(args.Recipe) == "" {
			err = errors.New("recipe is empty")
		}
		call = args
	case toolGetPastRecipes:
		var args fetchPastRecipes
		err = decodeArgs(tc.Arguments, &args)
		if err == nil {
			args, err = recipeRange(now, args)
		}
		call = args
	default:
		return nil, fmt.Errorf("usecase: unknown tool %q", tc.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("usecase: tool %s: %w", tc.Name, err)
	}
	return call, nil
}

func decodeArgs(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

// runTool performs the side-effect of call and returns the text handed back
// to the model as the tool result.
func (s *MessageService) runTool(ctx context.Context, userID string, now time.Time, call toolCall) (string, error) {
	stamp := now.Format(timestampLayout)
	switch call := call.(type) {
	case renameUser:
		name := strings.TrimSpace(call.UserName)
		if err := s.store.UpdateUser(ctx, userID, domain.UserUpdate{UserName: name, UpdateDate: stamp}); err != nil {
			return "", err
		}
		return name, nil
	case recordDislikedFoods:
		foods := strings.TrimSpace(call.DislikedFoods)
		if err := s.store.UpdateUser(ctx, userID, domain.UserUpdate{DislikedFoods: foods, UpdateDate: stamp}); err != nil {
			return "", err
		}
		return foods, nil
	case recordAdoptedRecipe:
		recipe := strings.TrimSpace(call.Recipe)
		if err := s.store.AppendRecipe(ctx, domain.AdoptedRecipe{UserID: userID, Date: stamp, Recipe: recipe}); err != nil {
			return "", err
		}
		return recipe, nil
	case fetchPastRecipes:
		recipes, err := s.store.GetRecipesInRange(ctx, userID, call.StartDate, call.EndDate)
		if err != nil {
			return "", err
		}
		return formatRecipes(recipes), nil
	}
	return "", fmt.Errorf("usecase: unhandled tool %T", call)
}

// recipeRange fills a missing bound with the documented default: from three
// days ago to the end of yesterday. Bounds compare as the store compares
// them, byte-wise, and must not be inverted.
func recipeRange(now time.Time, call fetchPastRecipes) (fetchPastRecipes, error) {
	start := strings.TrimSpace(call.StartDate)
	end := strings.TrimSpace(call.EndDate)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if start == "" {
		start = today.AddDate(0, 0, -3).Format(timestampLayout)
	}
	if end == "" {
		end = today.Add(-time.Microsecond).Format(timestampLayout)
	}
	if start > end {
		return fetchPastRecipes{}, fmt.Errorf("start_date %q is after end_date %q", start, end)
	}
	return fetchPastRecipes{StartDate: start, EndDate: end}, nil
}

func formatRecipes(recipes []domain.AdoptedRecipe) string {
	if len(recipes) == 0 {
		return noRecipesResult
	}
	lines := make([]string, 0, len(recipes))
	for _, r := range recipes {
		lines = append(lines, fmt.Sprintf("('%s', '%s')", r.Date, r.Recipe))
	}
	return strings.Join(lines, "\n")
}

// toolCatalog declares the tools offered on the first completion call.
func toolCatalog(now time.Time) []domain.ToolDefinition {
	offset := now.Format("-07:00")
	str := func(description string) *domain.ParamSchema {
		return &domain.ParamSchema{Type: "string", Description: description}
	}
	return []domain.ToolDefinition{
		{
			Name:        toolUpdateUserName,
			Description: "ユーザー名を保存する。",
			Parameters: &domain.ParamSchema{
				Type: "object",
				Properties: map[string]*domain.ParamSchema{
					"user_name": str("ユーザーの名前。自己紹介されたら名前を保存する。"),
				},
				Required: []string{"user_name"},
			},
		},
		{
			Name:        toolUpdateDislikedFoods,
			Description: "ユーザーの嫌いな食べ物・苦手な食べ物を保存する。",
			Parameters: &domain.ParamSchema{
				Type: "object",
				Properties: map[string]*domain.ParamSchema{
					"disliked_foods": str("ユーザーの嫌いな食べ物・苦手な食べ物。複数ある場合は「、」区切りでまとめて保存する。"),
				},
				Required: []string{"disliked_foods"},
			},
		},
		{
			Name: toolRecordAdoptedRecipe,
			Description: "自分が提案した献立をユーザーが「採用」と言ったら、採用された献立を保存する。" +
				"料理名を記載し、メインディッシュ・サイドディッシュ・デザートなどがある場合はすべて保存する。",
			Parameters: &domain.ParamSchema{
				Type: "object",
				Properties: map[string]*domain.ParamSchema{
					"recipe": str("ユーザーに提案して採用された献立。"),
				},
				Required: []string{"recipe"},
			},
		},
		{
			Name:        toolGetPastRecipes,
			Description: "今までに採用された献立を参照する必要があるときに、過去の献立を取得する。",
			Parameters: &domain.ParamSchema{
				Type: "object",
				Properties: map[string]*domain.ParamSchema{
					"start_date": str(fmt.Sprintf("参照する期間の開始日時。形式はyyyy-mm-ddT00:00:00.000000%s。指定がない場合は現在日時の3日前。", offset)),
					"end_date":   str(fmt.Sprintf("参照する期間の終了日時。形式はyyyy-mm-ddT23:59:59.999999%s。指定がない場合は昨日。", offset)),
				},
				Required: []string{"start_date", "end_date"},
			},
		},
	}
}
