package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoTables names the tables backing each record type.
type DynamoTables struct {
	Conversations string
	Threads       string
	Invocations   string
	Users         string
	Counters      map[Category]string
}

// DefaultDynamoTables returns the production table names.
func DefaultDynamoTables() DynamoTables {
	return DynamoTables{
		Conversations: "Conversations",
		Threads:       "Threads",
		Invocations:   "Invocations",
		Users:         "Users",
		Counters: map[Category]string{
			CategoryAWS: "RateLimitAWS",
			CategoryAI:  "RateLimitAI",
		},
	}
}

// DynamoStore is a Backend over DynamoDB.
type DynamoStore struct {
	api    DynamoAPI
	tables DynamoTables
	now    func() time.Time
}

// NewDynamoStore wraps an existing DynamoDB client.
func NewDynamoStore(api DynamoAPI, tables DynamoTables) *DynamoStore {
	return &DynamoStore{api: api, tables: tables, now: time.Now}
}

// OpenDynamo builds a DynamoDB client from the default AWS credential chain.
// A non-empty endpoint overrides the service endpoint (DynamoDB Local).
func OpenDynamo(ctx context.Context, region, endpoint string, tables DynamoTables) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoStore(client, tables), nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *DynamoStore) Close() error { return nil }

type dynamoEmail struct {
	Subject   string `dynamodbav:"subject"`
	Body      string `dynamodbav:"body"`
	Sender    string `dynamodbav:"sender"`
	Timestamp string `dynamodbav:"timestamp"`
	Type      string `dynamodbav:"type"`
}

func (s *DynamoStore) QueryConversation(ctx context.Context, conversationID string) ([]EmailRecord, error) {
	var records []EmailRecord
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tables.Conversations),
			KeyConditionExpression: aws.String("conversation_id = :cid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":cid": &types.AttributeValueMemberS{Value: conversationID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("querying conversation: %w", err)
		}

		var page []dynamoEmail
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("decoding conversation items: %w", err)
		}
		for _, e := range page {
			records = append(records, EmailRecord(e))
		}

		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (s *DynamoStore) GetThreadAccount(ctx context.Context, conversationID string) (string, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Threads),
		Key: map[string]types.AttributeValue{
			"conversation_id": &types.AttributeValueMemberS{Value: conversationID},
		},
		ProjectionExpression: aws.String("associated_account"),
	})
	if err != nil {
		return "", fmt.Errorf("getting thread: %w", err)
	}
	if out.Item == nil {
		return "", ErrNotFound
	}
	account, ok := out.Item["associated_account"].(*types.AttributeValueMemberS)
	if !ok || account.Value == "" {
		return "", ErrNotFound
	}
	return account.Value, nil
}

func (s *DynamoStore) GetAccountLimit(ctx context.Context, accountID string, category Category) (int, error) {
	if !category.Valid() {
		return 0, fmt.Errorf("unknown rate-limit category %q", category)
	}
	field := category.LimitField()
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Users),
		Key: map[string]types.AttributeValue{
			"account_id": &types.AttributeValueMemberS{Value: accountID},
		},
		ProjectionExpression:     aws.String("#f"),
		ExpressionAttributeNames: map[string]string{"#f": field},
	})
	if err != nil {
		return 0, fmt.Errorf("getting account: %w", err)
	}
	if out.Item == nil {
		return 0, ErrNotFound
	}
	v, ok := out.Item[field]
	if !ok {
		return 0, nil
	}
	return numberValue(v)
}

func (s *DynamoStore) IncrementCounter(ctx context.Context, accountID string, category Category, ttl time.Duration) (int, error) {
	table, ok := s.tables.Counters[category]
	if !ok {
		return 0, fmt.Errorf("no counter table for category %q", category)
	}
	key := map[string]types.AttributeValue{
		"account_id": &types.AttributeValueMemberS{Value: accountID},
	}

	// DynamoDB deletes expired items lazily, so an expired counter may still
	// be present; the condition routes that case to a reset.
	for attempt := 0; attempt < 2; attempt++ {
		now := s.now()
		out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                aws.String(table),
			Key:                      key,
			UpdateExpression:         aws.String("ADD invocations :one SET #ttl = if_not_exists(#ttl, :ttl)"),
			ConditionExpression:      aws.String("attribute_not_exists(#ttl) OR #ttl > :now"),
			ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":one": &types.AttributeValueMemberN{Value: "1"},
				":ttl": epochValue(now.Add(ttl)),
				":now": epochValue(now),
			},
			ReturnValues: types.ReturnValueUpdatedNew,
		})
		if err == nil {
			v, ok := out.Attributes["invocations"]
			if !ok {
				return 0, fmt.Errorf("counter update returned no invocations attribute")
			}
			return numberValue(v)
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("incrementing counter: %w", err)
		}

		_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(table),
			Item: map[string]types.AttributeValue{
				"account_id":  &types.AttributeValueMemberS{Value: accountID},
				"invocations": &types.AttributeValueMemberN{Value: "1"},
				"ttl":         epochValue(now.Add(ttl)),
			},
			ConditionExpression:       aws.String("#ttl <= :now"),
			ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":now": epochValue(now)},
		})
		if err == nil {
			return 1, nil
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("resetting counter: %w", err)
		}
		// Another request reset the counter first; count against its window.
	}
	return 0, fmt.Errorf("incrementing counter: window contended")
}

func (s *DynamoStore) PutInvocation(ctx context.Context, rec InvocationRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("encoding invocation: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Invocations),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("invocation %s: %w", rec.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("putting invocation: %w", err)
	}
	return nil
}

func (s *DynamoStore) UpdateThreadAttributes(ctx context.Context, conversationID string, attrs []Attribute) error {
	if len(attrs) == 0 {
		return nil
	}
	names := make(map[string]string, len(attrs))
	values := make(map[string]types.AttributeValue, len(attrs))
	sets := make([]string, 0, len(attrs))
	for i, a := range attrs {
		name := fmt.Sprintf("#attr%d", i)
		value := fmt.Sprintf(":val%d", i)
		sets = append(sets, name+" = "+value)
		names[name] = AttributeName(a.Key)
		values[value] = &types.AttributeValueMemberS{Value: a.Value}
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Threads),
		Key: map[string]types.AttributeValue{
			"conversation_id": &types.AttributeValueMemberS{Value: conversationID},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("updating thread attributes: %w", err)
	}
	return nil
}

func epochValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

func numberValue(v types.AttributeValue) (int, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("expected number attribute, got %T", v)
	}
	i, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("parsing number %q: %w", n.Value, err)
	}
	return i, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
