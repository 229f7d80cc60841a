// Package dynamostore implements store.DataStore on DynamoDB.
//
// Tables (partition key in brackets):
//   - users  [userId]    profile, favorites, matches (SS) and matchesData
//   - quotas [userId]    usage quota record
//   - titles [titleKey]  users (SS) who favorited the title
//
// Documents carry a numeric version. Transactional updates read with
// ConsistentRead, apply the mutations in memory and commit a single
// TransactWriteItems whose puts are conditioned on the version they read.
// Index membership uses ADD / DELETE on the string set, never a rewrite.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/oggyb/cinematch/internal/config"
	"github.com/oggyb/cinematch/internal/model"
	"github.com/oggyb/cinematch/internal/store"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Tables names the three tables.
type Tables struct {
	Users  string
	Quotas string
	Titles string
}

type Store struct {
	api    API
	tables Tables
}

var _ store.DataStore = (*Store)(nil)

func New(api API, tables Tables) *Store {
	return &Store{api: api, tables: tables}
}

// NewClient initializes the DynamoDB client from the default AWS chain.
// A configured endpoint points the client at DynamoDB Local.
func NewClient(ctx context.Context, cfg *config.Config) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Dynamo.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Dynamo.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Dynamo.Endpoint)
		}
	}), nil
}

type userItem struct {
	UserID        string                      `dynamodbav:"userId"`
	Version       int64                       `dynamodbav:"version"`
	DisplayName   string                      `dynamodbav:"displayName"`
	PhotoRef      string                      `dynamodbav:"photoRef,omitempty"`
	Gender        string                      `dynamodbav:"gender"`
	MatchGender   string                      `dynamodbav:"matchGender"`
	Location      string                      `dynamodbav:"location,omitempty"`
	MatchLocation string                      `dynamodbav:"matchLocation"`
	Favorites     map[string]map[string]title `dynamodbav:"favorites,omitempty"`
	Matches       []string                    `dynamodbav:"matches,stringset,omitempty"`
	MatchesData   map[string]matchData        `dynamodbav:"matchesData,omitempty"`
}

type title struct {
	Name      string `dynamodbav:"name"`
	PosterRef string `dynamodbav:"posterRef,omitempty"`
}

type matchData struct {
	DisplayName string `dynamodbav:"displayName"`
	PhotoRef    string `dynamodbav:"photoRef,omitempty"`
	Strength    int    `dynamodbav:"matchStrength"`
	MatchedAt   string `dynamodbav:"matchedAt"`
}

type quotaItem struct {
	UserID               string `dynamodbav:"userId"`
	Version              int64  `dynamodbav:"version"`
	IsPremium            bool   `dynamodbav:"isPremium"`
	ChangesThisWeek      int    `dynamodbav:"changesThisWeek"`
	MatchCount           int    `dynamodbav:"matchCount"`
	ChangeThreshold      int    `dynamodbav:"changeThreshold"`
	MatchThreshold       int    `dynamodbav:"matchThreshold"`
	CooldownStartedAt    string `dynamodbav:"cooldownStartedAt,omitempty"`
	AvailableForMatching bool   `dynamodbav:"availableForMatching"`
	LastResetAt          string `dynamodbav:"lastResetAt"`
}

type titleItem struct {
	TitleKey string   `dynamodbav:"titleKey"`
	Users    []string `dynamodbav:"users,stringset,omitempty"`
}

func idKey(name, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: id}}
}

func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	u, _, err := s.loadUser(ctx, userID)
	return u, err
}

// PutUser sets profile attributes and bumps the version, leaving favorites
// and matches as they are.
func (s *Store) PutUser(ctx context.Context, u *model.User) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Users),
		Key:       idKey("userId", u.ID),
		UpdateExpression: aws.String("SET displayName = :dn, photoRef = :ph, gender = :g, matchGender = :mg, " +
			"#loc = :loc, matchLocation = :ml ADD version :one"),
		ExpressionAttributeNames: map[string]string{"#loc": "location"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":dn":  &types.AttributeValueMemberS{Value: u.DisplayName},
			":ph":  &types.AttributeValueMemberS{Value: u.PhotoRef},
			":g":   &types.AttributeValueMemberS{Value: string(u.Gender)},
			":mg":  &types.AttributeValueMemberS{Value: string(u.MatchGender)},
			":loc": &types.AttributeValueMemberS{Value: u.Location},
			":ml":  &types.AttributeValueMemberS{Value: string(u.MatchLocation)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) GetQuota(ctx context.Context, userID string) (model.UsageQuota, bool, error) {
	q, _, found, err := s.loadQuota(ctx, userID)
	return q, found, err
}

type pending struct {
	user    *model.User
	quota   *model.UsageQuota
	version int64
	found   bool
}

// TransactionalUpdate commits every mutation in one TransactWriteItems call.
func (s *Store) TransactionalUpdate(ctx context.Context, muts ...store.Mutation) error {
	users := make(map[string]*pending)
	quotas := make(map[string]*pending)
	var order []string
	var items []types.TransactWriteItem

	for _, m := range muts {
		switch m := m.(type) {
		case store.UserMutation:
			p, ok := users[m.UserID]
			if !ok {
				u, v, err := s.loadUser(ctx, m.UserID)
				if err != nil {
					return err
				}
				p = &pending{user: u, version: v, found: true}
				users[m.UserID] = p
				order = append(order, "u:"+m.UserID)
			}
			if err := m.Fn(p.user); err != nil {
				return err
			}
		case store.QuotaMutation:
			p, ok := quotas[m.UserID]
			found := true
			if !ok {
				q, v, exists, err := s.loadQuota(ctx, m.UserID)
				if err != nil {
					return err
				}
				p = &pending{quota: &q, version: v, found: exists}
				quotas[m.UserID] = p
				order = append(order, "q:"+m.UserID)
				found = exists
			}
			if err := m.Fn(p.quota, found); err != nil {
				return err
			}
			p.quota.UserID = m.UserID
		case store.IndexMutation:
			items = append(items, types.TransactWriteItem{Update: s.indexUpdate(m)})
		default:
			return fmt.Errorf("unknown mutation %T", m)
		}
	}

	for _, ref := range order {
		var (
			item  map[string]types.AttributeValue
			table string
			p     *pending
			err   error
		)
		switch ref[:2] {
		case "u:":
			p, table = users[ref[2:]], s.tables.Users
			item, err = attributevalue.MarshalMap(toUserItem(p.user, p.version+1))
		default:
			p, table = quotas[ref[2:]], s.tables.Quotas
			item, err = attributevalue.MarshalMap(toQuotaItem(*p.quota, p.version+1))
		}
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		put := &types.Put{TableName: aws.String(table), Item: item}
		if p.found {
			put.ConditionExpression = aws.String("version = :v")
			put.ExpressionAttributeValues = map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(p.version, 10)},
			}
		} else {
			put.ConditionExpression = aws.String("attribute_not_exists(userId)")
		}
		items = append(items, types.TransactWriteItem{Put: put})
	}

	if len(items) == 0 {
		return nil
	}
	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return mapErr(err)
}

func (s *Store) indexUpdate(m store.IndexMutation) *types.Update {
	op := "ADD"
	if m.Remove {
		op = "DELETE"
	}
	return &types.Update{
		TableName:                aws.String(s.tables.Titles),
		Key:                      idKey("titleKey", m.TitleKey),
		UpdateExpression:         aws.String(op + " #users :u"),
		ExpressionAttributeNames: map[string]string{"#users": "users"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberSS{Value: []string{m.UserID}},
		},
	}
}

func (s *Store) ArrayUnion(ctx context.Context, collection, id, field, value string) error {
	return s.setOp(ctx, collection, id, field, value, false)
}

func (s *Store) ArrayRemove(ctx context.Context, collection, id, field, value string) error {
	return s.setOp(ctx, collection, id, field, value, true)
}

func (s *Store) setOp(ctx context.Context, collection, id, field, value string, remove bool) error {
	if err := store.CheckSetTarget(collection, field); err != nil {
		return err
	}
	u := s.indexUpdate(store.IndexMutation{TitleKey: id, UserID: value, Remove: remove})
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 u.TableName,
		Key:                       u.Key,
		UpdateExpression:          u.UpdateExpression,
		ExpressionAttributeNames:  u.ExpressionAttributeNames,
		ExpressionAttributeValues: u.ExpressionAttributeValues,
	})
	return err
}

// GetTitleIndex returns sorted members; a missing item is an empty set.
func (s *Store) GetTitleIndex(ctx context.Context, key string) ([]string, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Titles),
		Key:       idKey("titleKey", key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get title %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var it titleItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal title %s: %w", key, err)
	}
	sort.Strings(it.Users)
	return it.Users, nil
}

// ListCooldownUsers scans the quota table for unavailable users.
func (s *Store) ListCooldownUsers(ctx context.Context) ([]string, error) {
	var (
		ids   []string
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.tables.Quotas),
			FilterExpression:     aws.String("availableForMatching = :f"),
			ProjectionExpression: aws.String("userId"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":f": &types.AttributeValueMemberBOOL{Value: false},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan quotas: %w", err)
		}
		for _, item := range out.Items {
			if v, ok := item["userId"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, v.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping checks the users table is reachable with a one-item scan.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.api.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.tables.Users),
		Limit:     aws.Int32(1),
	})
	return err
}

func (s *Store) loadUser(ctx context.Context, userID string) (*model.User, int64, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Users),
		Key:            idKey("userId", userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	if out.Item == nil {
		return nil, 0, fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	var it userItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal user %s: %w", userID, err)
	}
	return fromUserItem(it), it.Version, nil
}

func (s *Store) loadQuota(ctx context.Context, userID string) (model.UsageQuota, int64, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Quotas),
		Key:            idKey("userId", userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.UsageQuota{}, 0, false, fmt.Errorf("failed to get quota %s: %w", userID, err)
	}
	if out.Item == nil {
		return model.UsageQuota{UserID: userID}, 0, false, nil
	}
	var it quotaItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return model.UsageQuota{}, 0, false, fmt.Errorf("failed to unmarshal quota %s: %w", userID, err)
	}
	q, err := fromQuotaItem(it)
	return q, it.Version, true, err
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var canceled *types.TransactionCanceledException
	var condition *types.ConditionalCheckFailedException
	var conflict *types.TransactionConflictException
	if errors.As(err, &canceled) || errors.As(err, &condition) || errors.As(err, &conflict) {
		return fmt.Errorf("%w: %v", store.ErrContention, err)
	}
	return err
}
