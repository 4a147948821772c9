package service

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

const lockShards = 256

// accountLocks serializes balance-check-then-append sequences per account.
// Accounts map onto a fixed shard set, so two accounts may share a mutex;
// that only over-serializes, it never under-serializes. This stands in for
// the advisory row lock a single-database deployment would take.
type accountLocks struct {
	shards [lockShards]sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{}
}

func (l *accountLocks) lock(accountID snowflake.ID) *sync.Mutex {
	mu := &l.shards[uint64(accountID)%lockShards]
	mu.Lock()
	return mu
}
