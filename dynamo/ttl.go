package dynamo

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ttlFilterExpr excludes soft-deleted items. Queries bind #ttl and :now.
const ttlFilterExpr = "attribute_not_exists(#ttl) OR #ttl > :now"

// isDeleted checks if an item has an expired ttl (is marked for deletion).
func (b *Backend) isDeleted(item map[string]types.AttributeValue) bool {
	ttlAttr, exists := item["ttl"]
	if !exists {
		return false
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= b.now().Unix()
}

// Deleted reports whether a raw DynamoDB item is soft-deleted as of now.
// Exposed for callers building custom queries against arbor tables.
func Deleted(item map[string]types.AttributeValue) bool {
	ttlAttr, exists := item["ttl"]
	if !exists {
		return false
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= time.Now().Unix()
}
