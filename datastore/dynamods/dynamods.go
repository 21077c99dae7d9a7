// Package dynamods provides a DynamoDB-backed datastore.Service.
//
// All entities live in one table. The partition key is the encoded
// root (entity-group) key and the sort key is the encoded full key, so
// an entity group occupies a single partition and an ancestor-scoped
// query is a begins_with key condition inside it. Numeric IDs are
// allocated from an atomic counter item per kind.
package dynamods

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/datastore"
)

// Store is a DynamoDB-backed datastore.Service.
type Store struct {
	client *dynamodb.Client
	config Config
}

var _ datastore.Service = (*Store)(nil)

// New creates a new Store instance.
func New(client *dynamodb.Client, config Config) *Store {
	config.validate()
	return &Store{client: client, config: config}
}

// record is the single-table row envelope. Entity bytes carry the
// property bag; pk/sk carry the entity-group and full key paths.
type record struct {
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	Kind   string `dynamodbav:"kind"`
	Entity []byte `dynamodbav:"entity"`
}

// Put implements datastore.Service.
func (s *Store) Put(ctx context.Context, e *datastore.Entity) (*datastore.Key, error) {
	for _, v := range e.Properties {
		if !datastore.ValidValue(v) {
			return nil, datastore.ErrInvalidValue
		}
	}

	stored := e.Clone()
	allocated := stored.Key.Incomplete()
	if allocated {
		id, err := s.allocateID(ctx, stored.Key.Kind)
		if err != nil {
			return nil, err
		}
		stored.Key.ID = id
	}

	data, err := datastore.EncodeEntity(stored)
	if err != nil {
		return nil, err
	}
	item, err := attributevalue.MarshalMap(record{
		PK:     stored.Key.Root().Encode(),
		SK:     stored.Key.Encode(),
		Kind:   stored.Key.Kind,
		Entity: data,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamods: marshal record: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.config.Table),
		Item:      item,
	}
	if allocated {
		// A freshly allocated ID must not land on an existing row;
		// that would mean the counter item was reset or bypassed.
		input.ConditionExpression = aws.String("attribute_not_exists(sk)")
	}
	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		if IsConditionalCheckFailed(err) {
			return nil, fmt.Errorf("dynamods: put %s: allocated id already in use", stored.Key)
		}
		return nil, fmt.Errorf("dynamods: put: %w", err)
	}
	return stored.Key, nil
}

// allocateID draws the next numeric ID for a kind from its counter
// item via an atomic ADD.
func (s *Store) allocateID(ctx context.Context, kind string) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.config.Table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: s.config.SequenceKey},
			"sk": &types.AttributeValueMemberS{Value: kind},
		},
		UpdateExpression: aws.String("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamods: allocate id for %s: %w", kind, err)
	}
	n, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamods: allocate id for %s: no seq attribute returned", kind)
	}
	id, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamods: allocate id for %s: %w", kind, err)
	}
	return id, nil
}

// Get implements datastore.Service.
func (s *Store) Get(ctx context.Context, key *datastore.Key) (*datastore.Entity, error) {
	if key.Incomplete() {
		return nil, datastore.ErrIncompleteKey
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.Table),
		Key:       itemKey(key),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamods: get: %w", err)
	}
	if out.Item == nil {
		return nil, datastore.ErrNotFound
	}
	return unmarshalRecord(out.Item)
}

// Delete implements datastore.Service.
func (s *Store) Delete(ctx context.Context, key *datastore.Key) error {
	if key.Incomplete() {
		return datastore.ErrIncompleteKey
	}

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.Table),
		Key:       itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("dynamods: delete: %w", err)
	}
	return nil
}

// Query implements datastore.Service. With an ancestor the query is a
// begins_with condition inside the entity group's partition; without
// one it falls back to a filtered scan over the whole table.
func (s *Store) Query(ctx context.Context, kind string, ancestor *datastore.Key) ([]*datastore.Entity, error) {
	if ancestor == nil {
		return s.scanKind(ctx, kind)
	}
	if ancestor.Incomplete() {
		return nil, datastore.ErrIncompleteKey
	}

	var out []*datastore.Entity
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.config.Table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		FilterExpression:       aws.String("kind = :kind"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: ancestor.Root().Encode()},
			":prefix": &types.AttributeValueMemberS{Value: ancestor.Encode()},
			":kind":   &types.AttributeValueMemberS{Value: kind},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamods: query: %w", err)
		}
		for _, item := range page.Items {
			e, err := unmarshalRecord(item)
			if err != nil {
				return nil, err
			}
			// begins_with can pick up a sibling whose encoded segment
			// merely extends the ancestor's; HasAncestor is exact.
			if e.Key.HasAncestor(ancestor) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (s *Store) scanKind(ctx context.Context, kind string) ([]*datastore.Entity, error) {
	var out []*datastore.Entity
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:        aws.String(s.config.Table),
		FilterExpression: aws.String("kind = :kind"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":kind": &types.AttributeValueMemberS{Value: kind},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamods: scan: %w", err)
		}
		for _, item := range page.Items {
			e, err := unmarshalRecord(item)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	// Scans return partition order; normalize to encoded-key order to
	// match the Service contract.
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Encode() < out[j].Key.Encode()
	})
	return out, nil
}

func itemKey(key *datastore.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: key.Root().Encode()},
		"sk": &types.AttributeValueMemberS{Value: key.Encode()},
	}
}

func unmarshalRecord(item map[string]types.AttributeValue) (*datastore.Entity, error) {
	var rec record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("dynamods: unmarshal record: %w", err)
	}
	e, err := datastore.DecodeEntity(rec.Entity)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// IsConditionalCheckFailed reports whether err is a DynamoDB
// conditional check failure.
func IsConditionalCheckFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}
