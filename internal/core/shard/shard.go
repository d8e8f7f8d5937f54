// Package shard provides the sharded single-writer mailbox used by
// every stateful component in this repository (KeyManager's rotation
// path aside, which rotates rarely enough to use a plain mutex):
// AuthorizationCodeStore, PAR Store, and RefreshTokenRotator all embed a
// Mailboxes to get per-key linearizable ordering without a global lock.
//
// Grounded on gourdiantoken's background-goroutine-plus-ticker shape
// (pkg/gourdiantoken-master/gourdiantoken.go: cleanupRotatedTokens) for
// the owning goroutine per mailbox, generalized from a fixed cleanup
// task to an arbitrary request/response job.
package shard

import "hash/fnv"

// job is one unit of work submitted to a shard: run executes against the
// shard's private state and signals completion via done.
type job struct {
	run  func()
	done chan struct{}
}

// Mailboxes partitions work across n goroutines, each draining its own
// channel in arrival order. Submit(key, fn) guarantees fn is never run
// concurrently with another fn submitted under a key that hashes to the
// same shard.
type Mailboxes struct {
	channels []chan job
}

// New starts n mailbox goroutines. n should be a small constant (e.g.
// number of CPUs) independent of the number of distinct keys the caller
// expects, since keys are hashed onto shards rather than given their own
// goroutine.
func New(n int) *Mailboxes {
	if n <= 0 {
		n = 1
	}
	m := &Mailboxes{channels: make([]chan job, n)}
	for i := range m.channels {
		ch := make(chan job, 64)
		m.channels[i] = ch
		go func(ch chan job) {
			for j := range ch {
				j.run()
				close(j.done)
			}
		}(ch)
	}
	return m
}

// Submit runs fn on the mailbox owning key and blocks until it
// completes, preserving arrival-order serialization for that key.
func (m *Mailboxes) Submit(key string, fn func()) {
	j := job{run: fn, done: make(chan struct{})}
	m.channels[shardIndex(key, len(m.channels))] <- j
	<-j.done
}

func shardIndex(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % n
}
