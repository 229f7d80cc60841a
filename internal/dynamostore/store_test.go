package dynamostore_test

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/cinematch/internal/dynamostore"
	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/store"
)

var tables = dynamostore.Tables{Users: "users", Quotas: "quotas", Titles: "titles"}

// fakeDynamo keeps items in memory and understands the handful of
// expressions the store issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]types.AttributeValue

	// beforeCommit runs inside TransactWriteItems before conditions are checked.
	beforeCommit func()
}

func newFake() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]map[string]types.AttributeValue{
		"users": {}, "quotas": {}, "titles": {},
	}}
}

func keyOf(key map[string]types.AttributeValue) string {
	for _, v := range key {
		return v.(*types.AttributeValueMemberS).Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[*in.TableName][keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.update(*in.TableName, in.Key, *in.UpdateExpression, in.ExpressionAttributeValues)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) update(table string, key map[string]types.AttributeValue, expr string, vals map[string]types.AttributeValue) {
	id := keyOf(key)
	item := f.items[table][id]
	if item == nil {
		item = map[string]types.AttributeValue{}
		for k, v := range key {
			item[k] = v
		}
		f.items[table][id] = item
	}
	switch {
	case strings.HasPrefix(expr, "ADD #users"), strings.HasPrefix(expr, "DELETE #users"):
		member := vals[":u"].(*types.AttributeValueMemberSS).Value[0]
		set := map[string]bool{}
		if cur, ok := item["users"].(*types.AttributeValueMemberSS); ok {
			for _, v := range cur.Value {
				set[v] = true
			}
		}
		set[member] = strings.HasPrefix(expr, "ADD")
		var out []string
		for v, keep := range set {
			if keep {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			delete(item, "users")
		} else {
			item["users"] = &types.AttributeValueMemberSS{Value: out}
		}
	default:
		// profile SET ... ADD version :one
		item["displayName"] = vals[":dn"]
		item["photoRef"] = vals[":ph"]
		item["gender"] = vals[":g"]
		item["matchGender"] = vals[":mg"]
		item["location"] = vals[":loc"]
		item["matchLocation"] = vals[":ml"]
		item["version"] = &types.AttributeValueMemberN{Value: bump(item["version"])}
	}
}

func bump(v types.AttributeValue) string {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return "1"
	}
	i, _ := strconv.Atoi(n.Value)
	return strconv.Itoa(i + 1)
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if f.beforeCommit != nil {
		f.beforeCommit()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ti := range in.TransactItems {
		if ti.Put == nil {
			continue
		}
		existing := f.items[*ti.Put.TableName][keyOf(map[string]types.AttributeValue{"userId": ti.Put.Item["userId"]})]
		cond := aws.ToString(ti.Put.ConditionExpression)
		switch {
		case strings.HasPrefix(cond, "attribute_not_exists"):
			if existing != nil {
				return nil, &types.TransactionCanceledException{Message: aws.String("ConditionalCheckFailed")}
			}
		case cond == "version = :v":
			want := ti.Put.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberN).Value
			got, _ := existing["version"].(*types.AttributeValueMemberN)
			if got == nil || got.Value != want {
				return nil, &types.TransactionCanceledException{Message: aws.String("ConditionalCheckFailed")}
			}
		}
	}
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.items[*ti.Put.TableName][keyOf(map[string]types.AttributeValue{"userId": ti.Put.Item["userId"]})] = ti.Put.Item
		case ti.Update != nil:
			f.update(*ti.Update.TableName, ti.Update.Key, *ti.Update.UpdateExpression, ti.Update.ExpressionAttributeValues)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]types.AttributeValue
	for _, item := range f.items[*in.TableName] {
		if b, ok := item["availableForMatching"].(*types.AttributeValueMemberBOOL); ok && !b.Value {
			out = append(out, map[string]types.AttributeValue{"userId": item["userId"]})
		}
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

func TestUserFavoritesAndMatches(t *testing.T) {
	ctx := context.Background()
	st := dynamostore.New(newFake(), tables)
	require.NoError(t, st.Ping(ctx))

	_, err := st.GetUser(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.PutUser(ctx, &model.User{ID: "u1", DisplayName: "Ana", MatchGender: model.MatchEveryone}))
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	title := model.Title{Category: model.CategoryTV, ID: "1396", Name: "Breaking Bad"}

	require.NoError(t, st.TransactionalUpdate(ctx,
		store.MutateUser("u1", func(u *model.User) error {
			u.AddFavorite(title)
			u.PutMatch("u2", model.MatchData{DisplayName: "Bo", Strength: 4, MatchedAt: at})
			return nil
		}),
		store.IndexAdd(title.Key(), "u1"),
	))

	u, err := st.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.DisplayName)
	assert.True(t, u.HasFavorite(model.CategoryTV, "1396"))
	require.True(t, u.IsMatchedWith("u2"))
	assert.Equal(t, 4, u.Matches["u2"].Strength)
	assert.True(t, at.Equal(u.Matches["u2"].MatchedAt))

	members, err := st.GetTitleIndex(ctx, title.Key())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)

	require.NoError(t, st.ArrayRemove(ctx, store.CollectionTitles, title.Key(), store.FieldUsers, "u1"))
	members, err = st.GetTitleIndex(ctx, title.Key())
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestQuotaConditionalPut(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	st := dynamostore.New(fake, tables)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, st.TransactionalUpdate(ctx, store.MutateQuota("u1", func(q *model.UsageQuota, found bool) error {
		assert.False(t, found)
		q.MatchThreshold = 2
		q.CooldownStartedAt = &now
		q.AvailableForMatching = false
		q.LastResetAt = now
		return nil
	})))

	q, found, err := st.GetQuota(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, q.CooldownStartedAt)
	assert.True(t, now.Equal(*q.CooldownStartedAt))

	ids, err := st.ListCooldownUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	// a concurrent writer bumps the version between read and commit
	other := dynamostore.New(fake, tables)
	fake.beforeCommit = func() {
		fake.beforeCommit = nil
		require.NoError(t, other.TransactionalUpdate(ctx, store.MutateQuota("u1", func(q *model.UsageQuota, _ bool) error {
			q.MatchCount = 9
			return nil
		})))
	}
	err = st.TransactionalUpdate(ctx, store.MutateQuota("u1", func(q *model.UsageQuota, _ bool) error {
		q.MatchCount = 1
		return nil
	}))
	require.ErrorIs(t, err, store.ErrContention)

	q, _, err = st.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 9, q.MatchCount)
}

func TestMissingUserWritesNothing(t *testing.T) {
	ctx := context.Background()
	st := dynamostore.New(newFake(), tables)

	err := st.TransactionalUpdate(ctx,
		store.IndexAdd("movie:1", "ghost"),
		store.MutateUser("ghost", func(*model.User) error { return nil }),
	)
	require.ErrorIs(t, err, store.ErrNotFound)

	members, err := st.GetTitleIndex(ctx, "movie:1")
	require.NoError(t, err)
	assert.Empty(t, members)

	assert.ErrorIs(t, st.ArrayUnion(ctx, "users", "u1", "matches", "u2"), store.ErrUnsupported)
}
