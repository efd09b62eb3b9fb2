package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"menu-bot/internal/domain"
)

type updateResult struct {
	out *dynamodb.UpdateItemOutput
	err error
}

type fakeDynamo struct {
	getOut        *dynamodb.GetItemOutput
	getErr        error
	putErr        error
	queryOut      *dynamodb.QueryOutput
	queryErr      error
	updates       []updateResult
	lastGetInput  *dynamodb.GetItemInput
	lastPutInput  *dynamodb.PutItemInput
	lastQueryIn   *dynamodb.QueryInput
	updateInputs  []*dynamodb.UpdateItemInput
	updateInvoked int
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInputs = append(f.updateInputs, in)
	idx := f.updateInvoked
	f.updateInvoked++
	if idx >= len(f.updates) {
		return &dynamodb.UpdateItemOutput{}, nil
	}
	return f.updates[idx].out, f.updates[idx].err
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func testTables() Tables {
	return Tables{Users: "users", Turns: "turns", Recipes: "recipes"}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, testTables())
	require.NoError(t, err)
	return c
}

func usageOut(n string) *dynamodb.UpdateItemOutput {
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		"usage_count": &types.AttributeValueMemberN{Value: n},
	}}
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func sAttr(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, testTables())
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	tables := testTables()
	tables.Recipes = " "
	_, err := New(&fakeDynamo{}, tables)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestGetUser_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"user_id":        sAttr("U1"),
		"user_name":      sAttr("Mika"),
		"disliked_foods": sAttr("carrots"),
		"usage_count":    &types.AttributeValueMemberN{Value: "3"},
		"usage_date":     sAttr("2026-10-15"),
		"mail":           &types.AttributeValueMemberNULL{Value: true},
	}}}
	c := mustNewClient(t, db)

	profile, ok, err := c.GetUser(context.Background(), "U1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Mika", profile.UserName)
	require.Equal(t, "carrots", profile.DislikedFoods)
	require.Equal(t, 3, profile.UsageCount)
	require.Empty(t, profile.Mail)
	require.Equal(t, "users", *db.lastGetInput.TableName)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetUser_NotFound(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, ok, err := c.GetUser(context.Background(), "U1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetUser_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, _, err := c.GetUser(context.Background(), "U1")
	require.ErrorContains(t, err, "GetUser")
	require.ErrorContains(t, err, "boom")

	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"user_id":     sAttr("U1"),
		"usage_count": sAttr("bad"),
	}}})
	_, _, err = c.GetUser(context.Background(), "U1")
	require.ErrorContains(t, err, "usage_count")
}

func TestCreateUser_WritesDefaults(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	err := c.CreateUser(context.Background(), domain.UserProfile{
		UserID:           "U1",
		UserName:         "ななし",
		DislikedFoods:    "わかりません",
		UsageDate:        "2026-10-15",
		RegistrationDate: "2026-10-15T09:00:00.000000+09:00",
		UpdateDate:       "2026-10-15T09:00:00.000000+09:00",
	})
	require.NoError(t, err)
	item := db.lastPutInput.Item
	require.Equal(t, "0", item["usage_count"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "ななし", item["user_name"].(*types.AttributeValueMemberS).Value)
	require.NotContains(t, item, "mail")
	require.Nil(t, db.lastPutInput.ConditionExpression)
}

func TestCreateUser_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.ErrorContains(t, c.CreateUser(context.Background(), domain.UserProfile{}), "required")

	c = mustNewClient(t, &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")})
	require.ErrorContains(t, c.CreateUser(context.Background(), domain.UserProfile{UserID: "U1"}), "CreateUser")
}

func TestIncrementUsage_SameDay(t *testing.T) {
	db := &fakeDynamo{updates: []updateResult{{out: usageOut("4")}}}
	c := mustNewClient(t, db)

	n, ok, err := c.IncrementUsage(context.Background(), "U1", "2026-10-15")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, n)
	require.Len(t, db.updateInputs, 1)
	in := db.updateInputs[0]
	require.Equal(t, "ADD usage_count :inc", *in.UpdateExpression)
	require.Contains(t, *in.ConditionExpression, "attribute_exists(user_id)")
	require.Equal(t, types.ReturnValueUpdatedNew, in.ReturnValues)
}

func TestIncrementUsage_NewDayResetsCounter(t *testing.T) {
	db := &fakeDynamo{updates: []updateResult{{err: conditionFailed()}, {out: usageOut("1")}}}
	c := mustNewClient(t, db)

	n, ok, err := c.IncrementUsage(context.Background(), "U1", "2026-10-16")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, n)
	require.Len(t, db.updateInputs, 2)
	require.Equal(t, "SET usage_count = :one, usage_date = :day", *db.updateInputs[1].UpdateExpression)
}

func TestIncrementUsage_ConcurrentResetIsRetried(t *testing.T) {
	db := &fakeDynamo{updates: []updateResult{{err: conditionFailed()}, {err: conditionFailed()}, {out: usageOut("2")}}}
	c := mustNewClient(t, db)

	n, ok, err := c.IncrementUsage(context.Background(), "U1", "2026-10-16")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, n)
	require.Len(t, db.updateInputs, 3)
	require.Equal(t, "ADD usage_count :inc", *db.updateInputs[0].UpdateExpression)
	require.Equal(t, "SET usage_count = :one, usage_date = :day", *db.updateInputs[1].UpdateExpression)
	require.Equal(t, "ADD usage_count :inc", *db.updateInputs[2].UpdateExpression)
}

func TestIncrementUsage_MissingProfile(t *testing.T) {
	db := &fakeDynamo{updates: []updateResult{{err: conditionFailed()}, {err: conditionFailed()}, {err: conditionFailed()}}}
	c := mustNewClient(t, db)

	_, ok, err := c.IncrementUsage(context.Background(), "ghost", "2026-10-15")
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, db.updateInputs, 3)
}

func TestIncrementUsage_StoreError(t *testing.T) {
	db := &fakeDynamo{updates: []updateResult{{err: errors.New("throttled")}}}
	c := mustNewClient(t, db)

	_, _, err := c.IncrementUsage(context.Background(), "U1", "2026-10-15")
	require.ErrorContains(t, err, "IncrementUsage")
	require.ErrorContains(t, err, "throttled")
	require.Len(t, db.updateInputs, 1)
}

func TestUpdateUser_SetsOnlyNonEmptyFields(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.UpdateUser(context.Background(), "U1", domain.UserUpdate{DislikedFoods: "carrots", UpdateDate: "2026-10-15T09:00:00.000000+09:00"})
	require.NoError(t, err)
	in := db.updateInputs[0]
	require.Equal(t, "SET disliked_foods = :disliked_foods, update_date = :update_date", *in.UpdateExpression)
	require.Len(t, in.ExpressionAttributeValues, 2)
	require.Equal(t, "carrots", in.ExpressionAttributeValues[":disliked_foods"].(*types.AttributeValueMemberS).Value)
}

func TestUpdateUser_EmptyUpdateIsNeverIssued(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.UpdateUser(context.Background(), "U1", domain.UserUpdate{})
	require.ErrorIs(t, err, ErrEmptyUpdate)
	require.Zero(t, db.updateInvoked)
}

func TestUpdateUser_StoreError(t *testing.T) {
	db := &fakeDynamo{updates: []updateResult{{err: errors.New("boom")}}}
	c := mustNewClient(t, db)
	err := c.UpdateUser(context.Background(), "U1", domain.UserUpdate{UserName: "Mika"})
	require.ErrorContains(t, err, "UpdateUser")
}

func TestGetRecentTurns_QueryShape(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		{"user_id": sAttr("U1"), "date": sAttr("2026-10-15T10:00:00.000000+09:00"), "message": sAttr("newer"), "reply": sAttr("r2")},
		{"user_id": sAttr("U1"), "date": sAttr("2026-10-15T09:00:00.000000+09:00"), "message": sAttr("older"), "reply": sAttr("r1")},
	}}}
	c := mustNewClient(t, db)

	turns, err := c.GetRecentTurns(context.Background(), "U1", 5)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "newer", turns[0].Message)
	require.Equal(t, "older", turns[1].Message)
	require.Equal(t, "turns", *db.lastQueryIn.TableName)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
	require.Equal(t, int32(5), *db.lastQueryIn.Limit)
}

func TestGetRecentTurns_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.GetRecentTurns(context.Background(), "U1", 5)
	require.ErrorContains(t, err, "GetRecentTurns")

	c = mustNewClient(t, &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		{"user_id": sAttr("U1")},
	}}})
	_, err = c.GetRecentTurns(context.Background(), "U1", 5)
	require.ErrorContains(t, err, "date")
}

func TestGetRecipesInRange_QueryShape(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		{"user_id": sAttr("U1"), "date": sAttr("2026-10-14T19:00:00.000000+09:00"), "recipe": sAttr("肉じゃが")},
	}}}
	c := mustNewClient(t, db)

	recipes, err := c.GetRecipesInRange(context.Background(), "U1", "2026-10-12T00:00:00.000000+09:00", "2026-10-14T23:59:59.999999+09:00")
	require.NoError(t, err)
	require.Equal(t, []domain.AdoptedRecipe{{UserID: "U1", Date: "2026-10-14T19:00:00.000000+09:00", Recipe: "肉じゃが"}}, recipes)

	in := db.lastQueryIn
	require.Equal(t, "recipes", *in.TableName)
	require.Equal(t, "user_id = :uid AND #date BETWEEN :start AND :end", *in.KeyConditionExpression)
	require.Equal(t, "date", in.ExpressionAttributeNames["#date"])
	require.Equal(t, int32(MaxRecipeResults), *in.Limit)
	require.False(t, *in.ScanIndexForward)
}

func TestGetRecipesInRange_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.GetRecipesInRange(context.Background(), "U1", "a", "b")
	require.ErrorContains(t, err, "GetRecipesInRange")
}

func TestAppendTurn(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	err := c.AppendTurn(context.Background(), domain.ConversationTurn{UserID: "U1", Date: "d", Message: "献立考えて", Reply: "カレーはどう？"})
	require.NoError(t, err)
	require.Equal(t, "turns", *db.lastPutInput.TableName)
	require.Equal(t, "カレーはどう？", db.lastPutInput.Item["reply"].(*types.AttributeValueMemberS).Value)

	require.ErrorContains(t, c.AppendTurn(context.Background(), domain.ConversationTurn{UserID: "U1"}), "required")

	c = mustNewClient(t, &fakeDynamo{putErr: errors.New("boom")})
	require.ErrorContains(t, c.AppendTurn(context.Background(), domain.ConversationTurn{UserID: "U1", Date: "d"}), "AppendTurn")
}

func TestAppendRecipe(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	err := c.AppendRecipe(context.Background(), domain.AdoptedRecipe{UserID: "U1", Date: "d", Recipe: "肉じゃが"})
	require.NoError(t, err)
	require.Equal(t, "recipes", *db.lastPutInput.TableName)
	require.Equal(t, "肉じゃが", db.lastPutInput.Item["recipe"].(*types.AttributeValueMemberS).Value)

	c = mustNewClient(t, &fakeDynamo{putErr: errors.New("boom")})
	require.ErrorContains(t, c.AppendRecipe(context.Background(), domain.AdoptedRecipe{UserID: "U1", Date: "d"}), "AppendRecipe")
}
