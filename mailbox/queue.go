// Copyright (c) 2014 The Kraken Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mailbox implements the per-client message queue. Each connection
// owns exactly one Queue for its lifetime; router shards hold back references
// to it but never keep it alive past teardown.
package mailbox

import (
	"sync"

	"github.com/google/uuid"
)

// Entry is one delivered message: the payload plus the topic names that
// caused the delivery. Entries are immutable after creation.
type Entry struct {
	Topics  []string
	Payload []byte
}

// Queue is a FIFO mailbox drained atomically by the owning connection.
// Enqueues come from router shards inside their critical sections, so every
// operation here must be non-blocking and must never fail: after Stop, late
// enqueues racing with shard cleanup are silently dropped.
type Queue struct {
	id string

	mu      sync.Mutex
	entries []Entry
	topics  map[string]struct{}
	stopped bool
}

func New() *Queue {
	return &Queue{
		id:     uuid.NewString(),
		topics: make(map[string]struct{}),
	}
}

// ID returns the stable identity of this queue for the connection's lifetime.
func (this *Queue) ID() string {
	return this.id
}

// Enqueue appends one entry. Dropped without error if the queue is stopped.
func (this *Queue) Enqueue(topics []string, payload []byte) {
	this.mu.Lock()
	defer this.mu.Unlock()

	if this.stopped {
		return
	}

	this.entries = append(this.entries, Entry{Topics: topics, Payload: payload})
}

// Drain returns and removes all buffered entries in FIFO order. The caller
// receives everything present at this instant; the next Drain starts empty.
func (this *Queue) Drain() []Entry {
	this.mu.Lock()
	defer this.mu.Unlock()

	entries := this.entries
	this.entries = nil

	return entries
}

// Len reports the number of buffered entries.
func (this *Queue) Len() int {
	this.mu.Lock()
	defer this.mu.Unlock()

	return len(this.entries)
}

// RecordSubscription notes that this queue now holds the given topics. Used
// at teardown to know which shards to notify. Idempotent per topic.
func (this *Queue) RecordSubscription(topics []string) {
	this.mu.Lock()
	defer this.mu.Unlock()

	if this.stopped {
		return
	}

	for _, t := range topics {
		this.topics[t] = struct{}{}
	}
}

// ForgetSubscription removes topics from the queue's own view. Idempotent.
func (this *Queue) ForgetSubscription(topics []string) {
	this.mu.Lock()
	defer this.mu.Unlock()

	for _, t := range topics {
		delete(this.topics, t)
	}
}

// SubscribedTopics returns a snapshot of the topics this queue holds.
func (this *Queue) SubscribedTopics() []string {
	this.mu.Lock()
	defer this.mu.Unlock()

	topics := make([]string, 0, len(this.topics))
	for t := range this.topics {
		topics = append(topics, t)
	}

	return topics
}

// Stop marks the queue dead and discards any buffered entries. Subsequent
// enqueues are dropped. Idempotent.
func (this *Queue) Stop() {
	this.mu.Lock()
	defer this.mu.Unlock()

	if this.stopped {
		return
	}

	this.stopped = true
	this.entries = nil
}

// Stopped reports whether Stop has been called.
func (this *Queue) Stopped() bool {
	this.mu.Lock()
	defer this.mu.Unlock()

	return this.stopped
}
