// Package dynamo implements the entity backend contract on DynamoDB.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/key"
)

// Client is the slice of the DynamoDB API the backend uses. *dynamodb.Client
// satisfies it.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// NewClient builds a DynamoDB client from the default AWS configuration.
func NewClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// Backend stores one entity type's items in a single table.
//
// Layout: the partition key is the item's nearest ancestor location (or the
// entity type itself for root entities), sharded per Config.NumShards; the
// sort key is the type-qualified reference "type#id". The full serialized
// ancestor chain is kept in the path attribute for prefix-scoped queries,
// and the by_ref GSI on entity_ref serves global lookups. Items carry
// version, created_at, updated_at, and a ttl soft-delete marker; queries
// filter deleted items automatically.
type Backend struct {
	client Client
	coord  key.Coordinate
	config Config

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a Backend for the entity at coord.
func New(client Client, coord key.Coordinate, config Config) *Backend {
	config.validate()
	return &Backend{
		client: client,
		coord:  coord,
		config: config,
		now:    time.Now,
	}
}

// managedFields are written by the backend and skipped when persisting
// caller-supplied properties.
var managedFields = map[string]bool{
	"pk": true, "sk": true, "path": true,
	"id": true, "locations": true,
	"entity_ref": true, "entity_type": true,
	"version": true, "created_at": true, "updated_at": true, "ttl": true,
}

// Create persists a new item. The item must carry an id and, for composite
// entities, its ancestor locations.
func (b *Backend) Create(ctx context.Context, item entity.Item) (entity.Item, error) {
	locs := item.Locations()
	if b.coord.IsComposite() && len(locs) == 0 {
		return nil, fmt.Errorf("dynamo: create %s: composite entity requires locations", b.coord.Own())
	}

	k := item.Key(b.coord)
	raw, err := b.marshalProps(item)
	if err != nil {
		return nil, err
	}

	nowISO := b.now().UTC().Format(time.RFC3339)
	raw["pk"] = &types.AttributeValueMemberS{Value: b.partitionFor(locs, k.Ref())}
	raw["sk"] = &types.AttributeValueMemberS{Value: k.Ref()}
	raw["id"] = &types.AttributeValueMemberS{Value: k.ID}
	raw["entity_ref"] = &types.AttributeValueMemberS{Value: k.Ref()}
	raw["entity_type"] = &types.AttributeValueMemberS{Value: b.coord.Own()}
	raw["version"] = &types.AttributeValueMemberN{Value: "1"}
	raw["created_at"] = &types.AttributeValueMemberS{Value: nowISO}
	raw["updated_at"] = &types.AttributeValueMemberS{Value: nowISO}
	if len(locs) > 0 {
		raw["path"] = &types.AttributeValueMemberS{Value: locs.String()}
	}

	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(b.config.Table),
		Item:                raw,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, entity.ErrAlreadyExists
		}
		return nil, err
	}

	return b.unmarshalItem(raw)
}

// Get retrieves an item by key, returning entity.ErrNotFound if deleted or
// missing. A global key (empty locations) is looked up through the by_ref
// GSI instead of the table key.
func (b *Backend) Get(ctx context.Context, k key.Key) (entity.Item, error) {
	if k.IsGlobal() {
		return b.getByRef(ctx, k.Ref())
	}

	result, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.config.Table),
		Key:       b.tableKey(k),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil || b.isDeleted(result.Item) {
		return nil, entity.ErrNotFound
	}
	return b.unmarshalItem(result.Item)
}

func (b *Backend) getByRef(ctx context.Context, ref string) (entity.Item, error) {
	result, err := b.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(b.config.Table),
		IndexName:              aws.String(b.config.RefIndex),
		KeyConditionExpression: aws.String("entity_ref = :ref"),
		FilterExpression:       aws.String(ttlFilterExpr),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: ref},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(b.now().Unix(), 10)},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, entity.ErrNotFound
	}
	return b.unmarshalItem(result.Items[0])
}

// Update applies patch to the item at k and returns the updated item. When
// the patch carries a version, it is used as an optimistic lock and a
// mismatch returns entity.ErrConcurrentModification; otherwise a failed
// existence check returns entity.ErrNotFound.
func (b *Backend) Update(ctx context.Context, k key.Key, patch entity.Item) (entity.Item, error) {
	tk, err := b.resolveKey(ctx, k)
	if err != nil {
		return nil, err
	}

	exprNames := map[string]string{
		"#updated_at": "updated_at",
		"#version":    "version",
		"#ttl":        "ttl",
	}
	exprValues := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: b.now().UTC().Format(time.RFC3339)},
		":one":        &types.AttributeValueMemberN{Value: "1"},
	}

	var setClauses []string
	names := make([]string, 0, len(patch))
	for name := range patch {
		if managedFields[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		av, err := attributevalue.Marshal(patch[name])
		if err != nil {
			return nil, fmt.Errorf("dynamo: marshal %q: %w", name, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		exprNames[nameKey] = name
		exprValues[valueKey] = av
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	setClauses = append(setClauses, "#updated_at = :updated_at", "#version = #version + :one")

	condition := "attribute_exists(id) AND attribute_not_exists(#ttl)"
	expectedVersion, locked := versionOf(patch)
	if locked {
		condition += " AND #version = :expected_version"
		exprValues[":expected_version"] = &types.AttributeValueMemberN{
			Value: strconv.FormatInt(expectedVersion, 10),
		}
	}

	result, err := b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(b.config.Table),
		Key:                       tk,
		UpdateExpression:          aws.String("SET " + strings.Join(setClauses, ", ")),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if locked {
				return nil, entity.ErrConcurrentModification
			}
			return nil, entity.ErrNotFound
		}
		return nil, err
	}
	return b.unmarshalItem(result.Attributes)
}

// Remove soft-deletes the item at k by setting its ttl, and returns the
// removed item. The version bump fails concurrent updates.
func (b *Backend) Remove(ctx context.Context, k key.Key) (entity.Item, error) {
	tk, err := b.resolveKey(ctx, k)
	if err != nil {
		return nil, err
	}

	result, err := b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(b.config.Table),
		Key:                 tk,
		UpdateExpression:    aws.String("SET #ttl = :now, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     "ttl",
			"#version": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(b.now().Unix(), 10)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, entity.ErrNotFound
		}
		return nil, err
	}
	return b.unmarshalItem(result.Attributes)
}

// All lists items in the scope of the location chain, which may be a prefix
// of the full ancestor chain.
func (b *Backend) All(ctx context.Context, q entity.Query, ch key.Chain) ([]entity.Item, error) {
	return b.queryScope(ctx, q, ch, 0)
}

// One returns the single item matching the query in scope, or
// entity.ErrNotFound.
func (b *Backend) One(ctx context.Context, q entity.Query, ch key.Chain) (entity.Item, error) {
	items, err := b.queryScope(ctx, q, ch, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, entity.ErrNotFound
	}
	return items[0], nil
}

// Find lists items matching the query in scope.
func (b *Backend) Find(ctx context.Context, q entity.Query, ch key.Chain) ([]entity.Item, error) {
	return b.queryScope(ctx, q, ch, 0)
}

// FindOne returns the first item matching the query in scope, or nil when
// nothing matches.
func (b *Backend) FindOne(ctx context.Context, q entity.Query, ch key.Chain) (entity.Item, error) {
	items, err := b.queryScope(ctx, q, ch, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// queryScope runs the location-scoped query across all shards of the
// partition base, fanning out when the table is sharded.
func (b *Backend) queryScope(ctx context.Context, q entity.Query, ch key.Chain, limit int32) ([]entity.Item, error) {
	base := b.coord.Own()
	if len(ch) > 0 {
		base = ch[0].Ref()
	}
	pks := shard.AllPKs(base, b.config.NumShards)

	// Fast path for single shard (default).
	if len(pks) == 1 {
		return b.queryShard(ctx, pks[0], q, ch, limit)
	}

	var mu sync.Mutex
	var all []entity.Item
	var wg sync.WaitGroup
	errs := make(chan error, len(pks))

	for _, pk := range pks {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()
			items, err := b.queryShard(ctx, pk, q, ch, limit)
			if err != nil {
				errs <- fmt.Errorf("shard %s: %w", pk, err)
				return
			}
			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
		}(pk)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	if limit > 0 && int32(len(all)) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (b *Backend) queryShard(ctx context.Context, pk string, q entity.Query, ch key.Chain, limit int32) ([]entity.Item, error) {
	exprNames := map[string]string{"#ttl": "ttl"}
	exprValues := map[string]types.AttributeValue{
		":pk":     &types.AttributeValueMemberS{Value: pk},
		":prefix": &types.AttributeValueMemberS{Value: b.coord.Own() + "#"},
		":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(b.now().Unix(), 10)},
	}

	filters := []string{ttlFilterExpr}

	// When the chain reaches past the nearest ancestor, the partition key
	// no longer encodes it fully; constrain on the serialized path.
	if len(ch) > 1 {
		exprNames["#path"] = "path"
		if len(ch) == len(b.coord.Ancestors()) {
			filters = append(filters, "#path = :path")
			exprValues[":path"] = &types.AttributeValueMemberS{Value: ch.String()}
		} else {
			filters = append(filters, "begins_with(#path, :path)")
			exprValues[":path"] = &types.AttributeValueMemberS{Value: ch.String() + "/"}
		}
	}

	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		av, err := attributevalue.Marshal(q[name])
		if err != nil {
			return nil, fmt.Errorf("dynamo: marshal filter %q: %w", name, err)
		}
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":f%d", i)
		exprNames[nameKey] = name
		exprValues[valueKey] = av
		filters = append(filters, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(b.config.Table),
		KeyConditionExpression:    aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		FilterExpression:          aws.String("(" + strings.Join(filters, ") AND (") + ")"),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	var items []entity.Item
	paginator := dynamodb.NewQueryPaginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			item, err := b.unmarshalItem(raw)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if limit > 0 && int32(len(items)) >= limit {
				return items, nil
			}
		}
	}
	return items, nil
}

// resolveKey maps an entity key to the table key, resolving global keys
// through the by_ref GSI first.
func (b *Backend) resolveKey(ctx context.Context, k key.Key) (map[string]types.AttributeValue, error) {
	if !k.IsGlobal() {
		return b.tableKey(k), nil
	}
	item, err := b.getByRef(ctx, k.Ref())
	if err != nil {
		return nil, err
	}
	return b.tableKey(item.Key(b.coord)), nil
}

func (b *Backend) tableKey(k key.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: b.partitionFor(k.Locations, k.Ref())},
		"sk": &types.AttributeValueMemberS{Value: k.Ref()},
	}
}

// partitionFor computes the sharded partition key: nearest ancestor location
// for composite entities, the type itself for roots.
func (b *Backend) partitionFor(locs key.Chain, ref string) string {
	base := b.coord.Own()
	if len(locs) > 0 {
		base = locs[0].Ref()
	}
	return shard.PartitionPK(base, ref, b.config.NumShards)
}

// marshalProps marshals the caller-supplied properties, skipping managed
// fields.
func (b *Backend) marshalProps(item entity.Item) (map[string]types.AttributeValue, error) {
	props := make(map[string]any, len(item))
	for name, v := range item {
		if managedFields[name] {
			continue
		}
		props[name] = v
	}
	raw, err := attributevalue.MarshalMap(props)
	if err != nil {
		return nil, fmt.Errorf("dynamo: marshal item: %w", err)
	}
	return raw, nil
}

// unmarshalItem converts a raw DynamoDB item back into an entity item,
// reconstructing the locations chain from the path attribute.
func (b *Backend) unmarshalItem(raw map[string]types.AttributeValue) (entity.Item, error) {
	var item map[string]any
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal item: %w", err)
	}

	path, _ := item["path"].(string)
	delete(item, "pk")
	delete(item, "sk")
	delete(item, "path")
	delete(item, "entity_ref")
	delete(item, "entity_type")
	if path != "" {
		item["locations"] = key.ParseChain(path)
	}
	return entity.Item(item), nil
}

// versionOf extracts an optimistic-lock version from a patch, tolerating the
// numeric types attributevalue produces.
func versionOf(patch entity.Item) (int64, bool) {
	switch v := patch["version"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
