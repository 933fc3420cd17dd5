package dynamo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/key"
)

// fakeClient implements Client with scripted responses and captured inputs.
type fakeClient struct {
	mu sync.Mutex

	putInputs    []*dynamodb.PutItemInput
	getInputs    []*dynamodb.GetItemInput
	updateInputs []*dynamodb.UpdateItemInput
	queryInputs  []*dynamodb.QueryInput

	putFn    func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	getFn    func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	updateFn func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	queryFn  func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	f.putInputs = append(f.putInputs, in)
	f.mu.Unlock()
	if f.putFn != nil {
		return f.putFn(in)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	f.getInputs = append(f.getInputs, in)
	f.mu.Unlock()
	if f.getFn != nil {
		return f.getFn(in)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	f.updateInputs = append(f.updateInputs, in)
	f.mu.Unlock()
	if f.updateFn != nil {
		return f.updateFn(in)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	f.queryInputs = append(f.queryInputs, in)
	f.mu.Unlock()
	if f.queryFn != nil {
		return f.queryFn(in)
	}
	return &dynamodb.QueryOutput{}, nil
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestBackend(client *fakeClient, coord key.Coordinate, cfg Config) *Backend {
	b := New(client, coord, cfg)
	b.now = func() time.Time { return fixedNow }
	return b
}

func TestCreate_SetsManagedAttributes(t *testing.T) {
	client := &fakeClient{}
	b := newTestBackend(client, key.NewCoordinate("company"), Config{Table: "entities"})

	item, err := b.Create(context.Background(), entity.Item{"id": "c1", "name": "Acme"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if len(client.putInputs) != 1 {
		t.Fatalf("expected one put, got %d", len(client.putInputs))
	}
	put := client.putInputs[0]
	if *put.TableName != "entities" {
		t.Errorf("expected table entities, got %s", *put.TableName)
	}
	if *put.ConditionExpression != "attribute_not_exists(id)" {
		t.Errorf("unexpected condition: %s", *put.ConditionExpression)
	}
	if got := str(put.Item["pk"]); got != "company#00" {
		t.Errorf("expected root partition company#00, got %q", got)
	}
	if got := str(put.Item["sk"]); got != "company#c1" {
		t.Errorf("expected sk company#c1, got %q", got)
	}
	if got := str(put.Item["entity_ref"]); got != "company#c1" {
		t.Errorf("expected entity_ref company#c1, got %q", got)
	}
	if v, ok := put.Item["version"].(*types.AttributeValueMemberN); !ok || v.Value != "1" {
		t.Errorf("expected version 1, got %v", put.Item["version"])
	}
	if got := str(put.Item["created_at"]); got != fixedNow.Format(time.RFC3339) {
		t.Errorf("unexpected created_at: %q", got)
	}
	if _, present := put.Item["path"]; present {
		t.Error("root entity must not carry a path attribute")
	}

	// The returned item carries caller fields, not table plumbing.
	if item["name"] != "Acme" {
		t.Errorf("expected name back, got %v", item["name"])
	}
	if _, present := item["pk"]; present {
		t.Error("returned item must not carry pk")
	}
}

func TestCreate_CompositePartitionAndPath(t *testing.T) {
	client := &fakeClient{}
	b := newTestBackend(client, key.NewCoordinate("order", "company"), Config{Table: "entities"})

	item, err := b.Create(context.Background(), entity.Item{
		"id":        "o1",
		"locations": key.Chain{{Type: "company", ID: "c1"}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	put := client.putInputs[0]
	if got := str(put.Item["pk"]); got != "company#c1#00" {
		t.Errorf("expected nearest-ancestor partition, got %q", got)
	}
	if got := str(put.Item["path"]); got != "company#c1" {
		t.Errorf("expected serialized chain in path, got %q", got)
	}

	locs, ok := item["locations"].(key.Chain)
	if !ok || locs.String() != "company#c1" {
		t.Errorf("expected locations reconstructed from path, got %v", item["locations"])
	}
}

func TestCreate_CompositeRequiresLocations(t *testing.T) {
	b := newTestBackend(&fakeClient{}, key.NewCoordinate("order", "company"), Config{Table: "entities"})

	_, err := b.Create(context.Background(), entity.Item{"id": "o1"})
	if err == nil || !strings.Contains(err.Error(), "requires locations") {
		t.Fatalf("expected locations error, got %v", err)
	}
}

func TestCreate_ConditionFailureIsAlreadyExists(t *testing.T) {
	client := &fakeClient{
		putFn: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	b := newTestBackend(client, key.NewCoordinate("company"), Config{Table: "entities"})

	_, err := b.Create(context.Background(), entity.Item{"id": "c1"})
	if !errors.Is(err, entity.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGet_MissingIsNotFound(t *testing.T) {
	b := newTestBackend(&fakeClient{}, key.NewCoordinate("company"), Config{Table: "entities"})

	_, err := b.Get(context.Background(), key.NewPrimary("company", "c1"))
	if !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_SoftDeletedIsNotFound(t *testing.T) {
	client := &fakeClient{
		getFn: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
				"id":  &types.AttributeValueMemberS{Value: "c1"},
				"ttl": &types.AttributeValueMemberN{Value: "1700000000"},
			}}, nil
		},
	}
	b := newTestBackend(client, key.NewCoordinate("company"), Config{Table: "entities"})

	_, err := b.Get(context.Background(), key.NewPrimary("company", "c1"))
	if !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for soft-deleted item, got %v", err)
	}
}

func TestGet_GlobalUsesRefIndex(t *testing.T) {
	client := &fakeClient{
		queryFn: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{{
				"id":   &types.AttributeValueMemberS{Value: "o1"},
				"path": &types.AttributeValueMemberS{Value: "company#c1"},
			}}}, nil
		},
	}
	b := newTestBackend(client, key.NewCoordinate("order", "company"), Config{Table: "entities"})

	item, err := b.Get(context.Background(), key.NewGlobal("order", "o1"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	q := client.queryInputs[0]
	if *q.IndexName != "by_ref" {
		t.Errorf("expected by_ref index, got %s", *q.IndexName)
	}
	if *q.KeyConditionExpression != "entity_ref = :ref" {
		t.Errorf("unexpected key condition: %s", *q.KeyConditionExpression)
	}
	if got := str(q.ExpressionAttributeValues[":ref"]); got != "order#o1" {
		t.Errorf("expected ref order#o1, got %q", got)
	}
	if !strings.Contains(*q.FilterExpression, "attribute_not_exists(#ttl)") {
		t.Errorf("expected ttl filter, got %s", *q.FilterExpression)
	}

	locs, ok := item["locations"].(key.Chain)
	if !ok || locs.String() != "company#c1" {
		t.Errorf("expected locations from path, got %v", item["locations"])
	}
}

func TestUpdate_BuildsPatchExpression(t *testing.T) {
	client := &fakeClient{
		updateFn: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
				"id":      &types.AttributeValueMemberS{Value: "c1"},
				"name":    &types.AttributeValueMemberS{Value: "Globex"},
				"version": &types.AttributeValueMemberN{Value: "2"},
			}}, nil
		},
	}
	b := newTestBackend(client, key.NewCoordinate("company"), Config{Table: "entities"})

	item, err := b.Update(context.Background(), key.NewPrimary("company", "c1"),
		entity.Item{"name": "Globex", "pk": "ignored"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	in := client.updateInputs[0]
	expr := *in.UpdateExpression
	if !strings.HasPrefix(expr, "SET ") {
		t.Errorf("expected SET expression, got %s", expr)
	}
	if !strings.Contains(expr, "#attr0 = :val0") {
		t.Errorf("expected patch clause, got %s", expr)
	}
	if in.ExpressionAttributeNames["#attr0"] != "name" {
		t.Errorf("expected #attr0 bound to name, got %v", in.ExpressionAttributeNames)
	}
	if !strings.Contains(expr, "#version = #version + :one") {
		t.Errorf("expected version bump, got %s", expr)
	}
	for _, bound := range in.ExpressionAttributeNames {
		if bound == "pk" {
			t.Error("managed field pk must not be patched")
		}
	}
	if *in.ConditionExpression != "attribute_exists(id) AND attribute_not_exists(#ttl)" {
		t.Errorf("unexpected condition: %s", *in.ConditionExpression)
	}
	if item["name"] != "Globex" {
		t.Errorf("expected updated item back, got %v", item)
	}
}

func TestUpdate_OptimisticLock(t *testing.T) {
	client := &fakeClient{
		updateFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	b := newTestBackend(client, key.NewCoordinate("company"), Config{Table: "entities"})

	_, err := b.Update(context.Background(), key.NewPrimary("company", "c1"),
		entity.Item{"name": "Globex", "version": 3})
	if !errors.Is(err, entity.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	in := client.updateInputs[0]
	if !strings.Contains(*in.ConditionExpression, "#version = :expected_version") {
		t.Errorf("expected version condition, got %s", *in.ConditionExpression)
	}
	if v, ok := in.ExpressionAttributeValues[":expected_version"].(*types.AttributeValueMemberN); !ok || v.Value != "3" {
		t.Errorf("expected version 3 bound, got %v", in.ExpressionAttributeValues[":expected_version"])
	}
}

func TestUpdate_UnlockedConditionFailureIsNotFound(t *testing.T) {
	client := &fakeClient{
		updateFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	b := newTestBackend(client, key.NewCoordinate("company"), Config{Table: "entities"})

	_, err := b.Update(context.Background(), key.NewPrimary("company", "c1"),
		entity.Item{"name": "Globex"})
	if !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemove_SoftDeletesAndReturnsOldItem(t *testing.T) {
	client := &fakeClient{
		updateFn: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
				"id":   &types.AttributeValueMemberS{Value: "c1"},
				"name": &types.AttributeValueMemberS{Value: "Acme"},
			}}, nil
		},
	}
	b := newTestBackend(client, key.NewCoordinate("company"), Config{Table: "entities"})

	item, err := b.Remove(context.Background(), key.NewPrimary("company", "c1"))
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if item["name"] != "Acme" {
		t.Errorf("expected removed item back, got %v", item)
	}

	in := client.updateInputs[0]
	if !strings.Contains(*in.UpdateExpression, "#ttl = :now") {
		t.Errorf("expected ttl set, got %s", *in.UpdateExpression)
	}
	if *in.ConditionExpression != "attribute_exists(id) AND attribute_not_exists(#ttl)" {
		t.Errorf("unexpected condition: %s", *in.ConditionExpression)
	}
}

func TestRemove_MissingIsNotFound(t *testing.T) {
	client := &fakeClient{
		updateFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	b := newTestBackend(client, key.NewCoordinate("company"), Config{Table: "entities"})

	_, err := b.Remove(context.Background(), key.NewPrimary("company", "c1"))
	if !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAll_ScopedQueryShape(t *testing.T) {
	client := &fakeClient{
		queryFn: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{{
				"id":   &types.AttributeValueMemberS{Value: "o1"},
				"path": &types.AttributeValueMemberS{Value: "company#c1"},
			}}}, nil
		},
	}
	b := newTestBackend(client, key.NewCoordinate("order", "company"), Config{Table: "entities"})

	items, err := b.All(context.Background(), entity.Query{}, key.Chain{{Type: "company", ID: "c1"}})
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}

	q := client.queryInputs[0]
	if *q.KeyConditionExpression != "pk = :pk AND begins_with(sk, :prefix)" {
		t.Errorf("unexpected key condition: %s", *q.KeyConditionExpression)
	}
	if got := str(q.ExpressionAttributeValues[":pk"]); got != "company#c1#00" {
		t.Errorf("expected partition company#c1#00, got %q", got)
	}
	if got := str(q.ExpressionAttributeValues[":prefix"]); got != "order#" {
		t.Errorf("expected type prefix order#, got %q", got)
	}
}

func TestAll_DeepChainConstrainsPath(t *testing.T) {
	client := &fakeClient{}
	coord := key.NewCoordinate("line", "order", "company")
	b := newTestBackend(client, coord, Config{Table: "entities"})

	full := key.Chain{{Type: "order", ID: "o1"}, {Type: "company", ID: "c1"}}
	if _, err := b.All(context.Background(), entity.Query{}, full); err != nil {
		t.Fatalf("All failed: %v", err)
	}

	q := client.queryInputs[0]
	if !strings.Contains(*q.FilterExpression, "#path = :path") {
		t.Errorf("expected exact path filter for full chain, got %s", *q.FilterExpression)
	}
	if got := str(q.ExpressionAttributeValues[":path"]); got != "order#o1/company#c1" {
		t.Errorf("unexpected path value: %q", got)
	}
}

func TestAll_QueryFiltersSorted(t *testing.T) {
	client := &fakeClient{}
	b := newTestBackend(client, key.NewCoordinate("order", "company"), Config{Table: "entities"})

	_, err := b.Find(context.Background(),
		entity.Query{"status": "open", "currency": "EUR"},
		key.Chain{{Type: "company", ID: "c1"}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	q := client.queryInputs[0]
	// Filter names bind in sorted order so expressions are deterministic.
	if q.ExpressionAttributeNames["#f0"] != "currency" || q.ExpressionAttributeNames["#f1"] != "status" {
		t.Errorf("expected sorted filter bindings, got %v", q.ExpressionAttributeNames)
	}
	if !strings.Contains(*q.FilterExpression, "#f0 = :f0") {
		t.Errorf("expected equality filter, got %s", *q.FilterExpression)
	}
}

func TestOne_EmptyIsNotFound(t *testing.T) {
	b := newTestBackend(&fakeClient{}, key.NewCoordinate("order", "company"), Config{Table: "entities"})

	_, err := b.One(context.Background(), entity.Query{}, key.Chain{{Type: "company", ID: "c1"}})
	if !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindOne_EmptyIsNil(t *testing.T) {
	b := newTestBackend(&fakeClient{}, key.NewCoordinate("order", "company"), Config{Table: "entities"})

	item, err := b.FindOne(context.Background(), entity.Query{}, key.Chain{{Type: "company", ID: "c1"}})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if item != nil {
		t.Errorf("expected nil item, got %v", item)
	}
}

func TestAll_ShardedFanOut(t *testing.T) {
	client := &fakeClient{
		queryFn: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			pk := str(in.ExpressionAttributeValues[":pk"])
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{{
				"id":   &types.AttributeValueMemberS{Value: "from-" + pk},
				"path": &types.AttributeValueMemberS{Value: "company#c1"},
			}}}, nil
		},
	}
	b := newTestBackend(client, key.NewCoordinate("order", "company"),
		Config{Table: "entities", NumShards: 4})

	items, err := b.All(context.Background(), entity.Query{}, key.Chain{{Type: "company", ID: "c1"}})
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected one item per shard, got %d", len(items))
	}
	if len(client.queryInputs) != 4 {
		t.Fatalf("expected four shard queries, got %d", len(client.queryInputs))
	}

	seen := make(map[string]bool)
	for _, in := range client.queryInputs {
		seen[str(in.ExpressionAttributeValues[":pk"])] = true
	}
	for _, pk := range []string{"company#c1#00", "company#c1#01", "company#c1#02", "company#c1#03"} {
		if !seen[pk] {
			t.Errorf("expected a query against %s", pk)
		}
	}
}

func TestVersionOf(t *testing.T) {
	cases := []struct {
		name   string
		patch  entity.Item
		want   int64
		locked bool
	}{
		{"int", entity.Item{"version": 3}, 3, true},
		{"int64", entity.Item{"version": int64(7)}, 7, true},
		{"float64", entity.Item{"version": 2.0}, 2, true},
		{"absent", entity.Item{}, 0, false},
		{"string", entity.Item{"version": "3"}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, locked := versionOf(tc.patch)
			if got != tc.want || locked != tc.locked {
				t.Errorf("versionOf() = (%d, %v), want (%d, %v)", got, locked, tc.want, tc.locked)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Table: "entities"}
	cfg.validate()
	if cfg.RefIndex != "by_ref" {
		t.Errorf("expected default ref index, got %q", cfg.RefIndex)
	}
	if cfg.NumShards != 1 {
		t.Errorf("expected single shard default, got %d", cfg.NumShards)
	}
}
