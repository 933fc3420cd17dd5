// Package shard provides shard key generation for distributed DynamoDB
// partition keys.
package shard

import (
	"fmt"
	"hash/fnv"
)

// PartitionPK computes the sharded partition key for a record.
// With numShards=1, all records for a base go to shard "00".
// With numShards>1, records are distributed across shards by member hash.
func PartitionPK(base, member string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", base)
	}
	h := fnv.New32a()
	h.Write([]byte(member))
	n := h.Sum32() % uint32(numShards)
	return fmt.Sprintf("%s#%02x", base, n)
}

// AllPKs enumerates every shard partition key for a base, for query fan-out.
func AllPKs(base string, numShards int) []string {
	if numShards <= 1 {
		return []string{fmt.Sprintf("%s#00", base)}
	}
	pks := make([]string, numShards)
	for i := 0; i < numShards; i++ {
		pks[i] = fmt.Sprintf("%s#%02x", base, i)
	}
	return pks
}
