package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"menu-bot/internal/domain"
)

// MaxRecipeResults caps every adopted-recipe range query.
const MaxRecipeResults = 20

// ErrEmptyUpdate is returned when UpdateUser is called with no field to set.
// DynamoDB rejects an empty SET expression, so the call is never issued.
var ErrEmptyUpdate = errors.New("repository: update has no fields to set")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Tables names the three DynamoDB tables backing the bot.
type Tables struct {
	Users   string
	Turns   string
	Recipes string
}

// Client wraps the user, conversation and recipe tables.
type Client struct {
	api    dynamodbAPI
	tables Tables
	logger *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tables Tables, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	for name, table := range map[string]string{"user": tables.Users, "turn": tables.Turns, "recipe": tables.Recipes} {
		if strings.TrimSpace(table) == "" {
			return nil, fmt.Errorf("repository: %s table name must not be empty", name)
		}
	}
	c := &Client{api: api, tables: tables, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// fail logs a store fault under its operation name and returns it wrapped.
func (c *Client) fail(op string, err error) error {
	c.logger.Error("dynamodb operation failed", "op", op, "err", err)
	return fmt.Errorf("repository: %s: %w", op, err)
}

// GetUser returns the stored profile. A missing profile is reported with
// ok=false and no error.
func (c *Client) GetUser(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tables.Users),
		Key:            userKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.UserProfile{}, false, c.fail("GetUser", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.UserProfile{}, false, nil
	}
	profile, err := itemToUser(out.Item)
	if err != nil {
		return domain.UserProfile{}, false, c.fail("GetUser", err)
	}
	return profile, true, nil
}

// CreateUser writes a new profile, replacing any existing one with the same id.
func (c *Client) CreateUser(ctx context.Context, profile domain.UserProfile) error {
	if profile.UserID == "" {
		return errors.New("repository: CreateUser: user id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tables.Users),
		Item:      userItem(profile),
	})
	if err != nil {
		return c.fail("CreateUser", err)
	}
	return nil
}

// IncrementUsage atomically adds one to the usage counter for day and returns
// the new value. The counter restarts at 1 on the first increment of a new
// day. ok=false means the profile does not exist; no item is created then.
func (c *Client) IncrementUsage(ctx context.Context, userID, day string) (int, bool, error) {
	n, ok, err := c.addUsage(ctx, userID, day)
	if err != nil || ok {
		return n, ok, err
	}
	n, ok, err = c.resetUsage(ctx, userID, day)
	if err != nil || ok {
		return n, ok, err
	}
	// Another invocation may have reset the counter between both attempts.
	return c.addUsage(ctx, userID, day)
}

func (c *Client) addUsage(ctx context.Context, userID, day string) (int, bool, error) {
	return c.updateUsage(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tables.Users),
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("ADD usage_count :inc"),
		ConditionExpression: aws.String("attribute_exists(user_id) AND usage_date = :day"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inc": &types.AttributeValueMemberN{Value: "1"},
			":day": &types.AttributeValueMemberS{Value: day},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
}

func (c *Client) resetUsage(ctx context.Context, userID, day string) (int, bool, error) {
	return c.updateUsage(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tables.Users),
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("SET usage_count = :one, usage_date = :day"),
		ConditionExpression: aws.String("attribute_exists(user_id) AND (attribute_not_exists(usage_date) OR usage_date <> :day)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":day": &types.AttributeValueMemberS{Value: day},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
}

func (c *Client) updateUsage(ctx context.Context, in *dynamodb.UpdateItemInput) (int, bool, error) {
	out, err := c.api.UpdateItem(ctx, in)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, false, nil
		}
		return 0, false, c.fail("IncrementUsage", err)
	}
	if out == nil {
		return 0, false, c.fail("IncrementUsage", errors.New("empty update response"))
	}
	n, err := intAttr(out.Attributes, "usage_count")
	if err != nil {
		return 0, false, c.fail("IncrementUsage", err)
	}
	return n, true, nil
}

// UpdateUser sets every non-empty field of update on the profile.
func (c *Client) UpdateUser(ctx context.Context, userID string, update domain.UserUpdate) error {
	if update.IsEmpty() {
		return ErrEmptyUpdate
	}
	expr, values := updateParams(update)
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tables.Users),
		Key:                       userKey(userID),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return c.fail("UpdateUser", err)
	}
	return nil
}

func updateParams(update domain.UserUpdate) (string, map[string]types.AttributeValue) {
	fields := []struct {
		attr  string
		value string
	}{
		{"user_name", update.UserName},
		{"disliked_foods", update.DislikedFoods},
		{"update_date", update.UpdateDate},
	}
	var sets []string
	values := map[string]types.AttributeValue{}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = :%s", f.attr, f.attr))
		values[":"+f.attr] = &types.AttributeValueMemberS{Value: f.value}
	}
	if len(sets) == 0 {
		return "", nil
	}
	return "SET " + strings.Join(sets, ", "), values
}

// GetRecentTurns returns up to count turns, newest first.
func (c *Client) GetRecentTurns(ctx context.Context, userID string, count int) ([]domain.ConversationTurn, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tables.Turns),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(count)),
	})
	if err != nil {
		return nil, c.fail("GetRecentTurns", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, c.fail("GetRecentTurns", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// GetRecipesInRange returns adopted recipes dated within [start, end], newest
// first, capped at MaxRecipeResults.
func (c *Client) GetRecipesInRange(ctx context.Context, userID, start, end string) ([]domain.AdoptedRecipe, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tables.Recipes),
		KeyConditionExpression: aws.String("user_id = :uid AND #date BETWEEN :start AND :end"),
		ExpressionAttributeNames: map[string]string{
			"#date": "date",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":   &types.AttributeValueMemberS{Value: userID},
			":start": &types.AttributeValueMemberS{Value: start},
			":end":   &types.AttributeValueMemberS{Value: end},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(MaxRecipeResults),
	})
	if err != nil {
		return nil, c.fail("GetRecipesInRange", err)
	}

	recipes := make([]domain.AdoptedRecipe, 0, len(out.Items))
	for _, item := range out.Items {
		recipe, err := itemToRecipe(item)
		if err != nil {
			return nil, c.fail("GetRecipesInRange", err)
		}
		recipes = append(recipes, recipe)
	}
	return recipes, nil
}

// AppendTurn persists a conversation turn.
func (c *Client) AppendTurn(ctx context.Context, turn domain.ConversationTurn) error {
	if turn.UserID == "" || turn.Date == "" {
		return errors.New("repository: AppendTurn: user id and date are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tables.Turns),
		Item: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: turn.UserID},
			"date":    &types.AttributeValueMemberS{Value: turn.Date},
			"message": &types.AttributeValueMemberS{Value: turn.Message},
			"reply":   &types.AttributeValueMemberS{Value: turn.Reply},
		},
	})
	if err != nil {
		return c.fail("AppendTurn", err)
	}
	return nil
}

// AppendRecipe persists an adopted recipe.
func (c *Client) AppendRecipe(ctx context.Context, recipe domain.AdoptedRecipe) error {
	if recipe.UserID == "" || recipe.Date == "" {
		return errors.New("repository: AppendRecipe: user id and date are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tables.Recipes),
		Item: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: recipe.UserID},
			"date":    &types.AttributeValueMemberS{Value: recipe.Date},
			"recipe":  &types.AttributeValueMemberS{Value: recipe.Recipe},
		},
	})
	if err != nil {
		return c.fail("AppendRecipe", err)
	}
	return nil
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

func userItem(p domain.UserProfile) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"user_id":           &types.AttributeValueMemberS{Value: p.UserID},
		"user_name":         &types.AttributeValueMemberS{Value: p.UserName},
		"disliked_foods":    &types.AttributeValueMemberS{Value: p.DislikedFoods},
		"usage_count":       &types.AttributeValueMemberN{Value: strconv.Itoa(p.UsageCount)},
		"usage_date":        &types.AttributeValueMemberS{Value: p.UsageDate},
		"registration_date": &types.AttributeValueMemberS{Value: p.RegistrationDate},
		"update_date":       &types.AttributeValueMemberS{Value: p.UpdateDate},
	}
	if p.Mail != "" {
		item["mail"] = &types.AttributeValueMemberS{Value: p.Mail}
	}
	return item
}

func itemToUser(item map[string]types.AttributeValue) (domain.UserProfile, error) {
	userID, err := strAttr(item, "user_id")
	if err != nil {
		return domain.UserProfile{}, err
	}
	usage := 0
	if _, ok := item["usage_count"]; ok {
		if usage, err = intAttr(item, "usage_count"); err != nil {
			return domain.UserProfile{}, err
		}
	}
	return domain.UserProfile{
		UserID:           userID,
		UserName:         optStrAttr(item, "user_name"),
		DislikedFoods:    optStrAttr(item, "disliked_foods"),
		UsageCount:       usage,
		UsageDate:        optStrAttr(item, "usage_date"),
		RegistrationDate: optStrAttr(item, "registration_date"),
		UpdateDate:       optStrAttr(item, "update_date"),
		Mail:             optStrAttr(item, "mail"),
	}, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.ConversationTurn, error) {
	userID, err := strAttr(item, "user_id")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	date, err := strAttr(item, "date")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	return domain.ConversationTurn{
		UserID:  userID,
		Date:    date,
		Message: optStrAttr(item, "message"),
		Reply:   optStrAttr(item, "reply"),
	}, nil
}

func itemToRecipe(item map[string]types.AttributeValue) (domain.AdoptedRecipe, error) {
	userID, err := strAttr(item, "user_id")
	if err != nil {
		return domain.AdoptedRecipe{}, err
	}
	date, err := strAttr(item, "date")
	if err != nil {
		return domain.AdoptedRecipe{}, err
	}
	recipe, err := strAttr(item, "recipe")
	if err != nil {
		return domain.AdoptedRecipe{}, err
	}
	return domain.AdoptedRecipe{UserID: userID, Date: date, Recipe: recipe}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

// optStrAttr returns the string attribute or "" when absent, null or not a string.
func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key)
	return s
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
