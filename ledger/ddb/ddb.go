// Package ddb implements a DynamoDB-backed build ledger for
// multi-worker index builds.
//
// DynamoDB conditional writes give the atomic first-writer-wins commit
// that a shared object store lacks: concurrent workers race to commit a
// stage, exactly one PutItem succeeds, and every other worker observes
// ledger.ErrStageCommitted and adopts the winner's entry.
//
// Table schema:
//   - Partition key: build (string) - the build name
//   - Sort key: stage (string) - the pipeline stage
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name quiver-builds \
//	  --attribute-definitions AttributeName=build,AttributeType=S AttributeName=stage,AttributeType=S \
//	  --key-schema AttributeName=build,KeyType=HASH AttributeName=stage,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package ddb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/quiverdb/quiver/ledger"
)

// Client is the interface for DynamoDB operations.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Ledger implements ledger.Ledger backed by a DynamoDB table. Reads are
// strongly consistent so a worker that lost a commit race immediately
// sees the winning entry.
type Ledger struct {
	client    Client
	tableName string
}

// Option configures a Ledger created by New.
type Option func(*options)

type options struct {
	client Client
	region string
}

// WithClient injects a preconfigured client instead of loading AWS
// configuration from the environment.
func WithClient(client Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithRegion overrides the AWS region resolved from the environment.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// New creates a DynamoDB ledger over tableName. Unless WithClient is
// given, credentials and region are resolved from the default AWS
// config chain.
func New(ctx context.Context, tableName string, optFns ...Option) (*Ledger, error) {
	var o options
	for _, fn := range optFns {
		fn(&o)
	}

	if o.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if o.region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(o.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		o.client = dynamodb.NewFromConfig(cfg)
	}

	return &Ledger{client: o.client, tableName: tableName}, nil
}

// NewLedger creates a DynamoDB ledger from an existing client.
func NewLedger(client Client, tableName string) *Ledger {
	return &Ledger{client: client, tableName: tableName}
}

// Commit implements ledger.Ledger. The conditional put succeeds for
// exactly one committer per (build, stage).
func (l *Ledger) Commit(ctx context.Context, build string, entry ledger.Entry) error {
	entry.CommittedAt = time.Now().UTC()

	item := map[string]types.AttributeValue{
		"build":        &types.AttributeValueMemberS{Value: build},
		"stage":        &types.AttributeValueMemberS{Value: entry.Stage},
		"rows":         &types.AttributeValueMemberN{Value: strconv.FormatInt(entry.Rows, 10)},
		"bytes":        &types.AttributeValueMemberN{Value: strconv.FormatInt(entry.Bytes, 10)},
		"committed_at": &types.AttributeValueMemberS{Value: entry.CommittedAt.Format(time.RFC3339Nano)},
	}
	if len(entry.Artifacts) > 0 {
		artifacts := make([]types.AttributeValue, len(entry.Artifacts))
		for i, name := range entry.Artifacts {
			artifacts[i] = &types.AttributeValueMemberS{Value: name}
		}
		item["artifacts"] = &types.AttributeValueMemberL{Value: artifacts}
	}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#s)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "stage",
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: build %q stage %q", ledger.ErrStageCommitted, build, entry.Stage)
		}
		return fmt.Errorf("ledger: commit to dynamodb: %w", err)
	}
	return nil
}

// Get implements ledger.Ledger.
func (l *Ledger) Get(ctx context.Context, build, stage string) (*ledger.Entry, error) {
	resp, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"build": &types.AttributeValueMemberS{Value: build},
			"stage": &types.AttributeValueMemberS{Value: stage},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: get from dynamodb: %w", err)
	}
	if len(resp.Item) == 0 {
		return nil, fmt.Errorf("%w: build %q stage %q", ledger.ErrNotFound, build, stage)
	}
	return decodeEntry(resp.Item)
}

// List implements ledger.Ledger. Entries are returned in commit order.
func (l *Ledger) List(ctx context.Context, build string) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	var startKey map[string]types.AttributeValue

	for {
		resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(l.tableName),
			KeyConditionExpression: aws.String("#b = :build"),
			ExpressionAttributeNames: map[string]string{
				"#b": "build",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":build": &types.AttributeValueMemberS{Value: build},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("ledger: query dynamodb: %w", err)
		}
		for _, item := range resp.Items {
			entry, err := decodeEntry(item)
			if err != nil {
				return nil, err
			}
			entries = append(entries, *entry)
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}

	// The sort key orders by stage name; commit order is the timestamp.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CommittedAt.Before(entries[j].CommittedAt)
	})
	return entries, nil
}

// Clear implements ledger.Ledger.
func (l *Ledger) Clear(ctx context.Context, build string) error {
	entries, err := l.List(ctx, build)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(l.tableName),
			Key: map[string]types.AttributeValue{
				"build": &types.AttributeValueMemberS{Value: build},
				"stage": &types.AttributeValueMemberS{Value: entry.Stage},
			},
		})
		if err != nil {
			return fmt.Errorf("ledger: delete from dynamodb: %w", err)
		}
	}
	return nil
}

func decodeEntry(item map[string]types.AttributeValue) (*ledger.Entry, error) {
	stageAttr, ok := item["stage"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("ledger: invalid stage attribute in dynamodb item")
	}
	entry := ledger.Entry{Stage: stageAttr.Value}

	if rowsAttr, ok := item["rows"].(*types.AttributeValueMemberN); ok {
		rows, err := strconv.ParseInt(rowsAttr.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse rows attribute: %w", err)
		}
		entry.Rows = rows
	}
	if bytesAttr, ok := item["bytes"].(*types.AttributeValueMemberN); ok {
		bytes, err := strconv.ParseInt(bytesAttr.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse bytes attribute: %w", err)
		}
		entry.Bytes = bytes
	}
	if artifactsAttr, ok := item["artifacts"].(*types.AttributeValueMemberL); ok {
		for _, v := range artifactsAttr.Value {
			s, ok := v.(*types.AttributeValueMemberS)
			if !ok {
				return nil, errors.New("ledger: invalid artifacts attribute in dynamodb item")
			}
			entry.Artifacts = append(entry.Artifacts, s.Value)
		}
	}
	if atAttr, ok := item["committed_at"].(*types.AttributeValueMemberS); ok {
		at, err := time.Parse(time.RFC3339Nano, atAttr.Value)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse committed_at attribute: %w", err)
		}
		entry.CommittedAt = at
	}
	return &entry, nil
}
