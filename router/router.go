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

// Package router maintains the topic to subscriber index. The topic space is
// partitioned across a fixed number of shards; each shard serializes its own
// mutations, and shards never call into each other, so publishes touching
// disjoint topic sets proceed in parallel.
package router

import (
	"errors"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/bosky101/kraken/commons"
	"github.com/bosky101/kraken/config"
	"github.com/bosky101/kraken/mailbox"
)

var (
	ErrInvalidQueue = errors.New("router: queue cannot be nil")
)

type Router interface {
	// Subscribe installs q as a subscriber of each topic. Returns after
	// every involved shard has applied the mutation.
	Subscribe(q *mailbox.Queue, topics []string) error

	// Unsubscribe removes q from each topic. Unknown pairs are no-ops.
	Unsubscribe(q *mailbox.Queue, topics []string) error

	// Publish enqueues payload into every queue subscribed to any of the
	// topics. The origin queue is not filtered out: a publisher subscribed
	// to its own topic receives its own message.
	Publish(origin *mailbox.Queue, topics []string, payload []byte) error

	// DropQueue removes every reference to q from every shard. It runs to
	// completion before returning; afterwards no shard will enqueue into q.
	DropQueue(q *mailbox.Queue) error
}

type ShardRouter struct {
	shards []*shard

	minFanoutToWarn int
	minTopicsToWarn int
}

var _ Router = (*ShardRouter)(nil)

func NewShardRouter(cfg *config.Config) *ShardRouter {
	shards := make([]*shard, cfg.NumRouterShards)
	for i := range shards {
		shards[i] = newShard(i, cfg.RouterMinFanoutToWarn)
	}

	return &ShardRouter{
		shards:          shards,
		minFanoutToWarn: cfg.RouterMinFanoutToWarn,
		minTopicsToWarn: cfg.RouterMinPublishToTopicsToWarn,
	}
}

func (this *ShardRouter) NumShards() int {
	return len(this.shards)
}

// shardOf maps topic bytes to a shard index. Pure and stable: the same topic
// always routes to the same shard for the process lifetime.
func (this *ShardRouter) shardOf(topic string) int {
	h := fnv.New32a()
	h.Write([]byte(topic))
	return int(h.Sum32() % uint32(len(this.shards)))
}

// partition groups topics by owning shard, dropping empty topic names, which
// the wire protocol cannot legally produce.
func (this *ShardRouter) partition(topics []string) map[int][]string {
	parts := make(map[int][]string, len(this.shards))
	for _, t := range topics {
		if t == "" {
			continue
		}

		i := this.shardOf(t)
		parts[i] = append(parts[i], t)
	}

	return parts
}

func (this *ShardRouter) Subscribe(q *mailbox.Queue, topics []string) error {
	if q == nil {
		return ErrInvalidQueue
	}

	for i, part := range this.partition(topics) {
		this.shards[i].subscribe(q, part)
	}

	return nil
}

func (this *ShardRouter) Unsubscribe(q *mailbox.Queue, topics []string) error {
	if q == nil {
		return ErrInvalidQueue
	}

	for i, part := range this.partition(topics) {
		this.shards[i].unsubscribe(q, part)
	}

	return nil
}

func (this *ShardRouter) Publish(origin *mailbox.Queue, topics []string, payload []byte) error {
	if len(topics) > this.minTopicsToWarn {
		commons.Log.Warn("publish to many topics",
			zap.Int("topics", len(topics)),
			zap.Int("threshold", this.minTopicsToWarn))
	}

	parts := this.partition(topics)

	// One independent shard call per partition, awaited in parallel. No
	// shard calls into another shard, so this cannot deadlock. A single
	// publish is not atomic across shards: a concurrent drain may observe
	// some partitions' deliveries and not others, but none are lost.
	var wg sync.WaitGroup
	for i, part := range parts {
		wg.Add(1)
		go func(s *shard, part []string) {
			defer wg.Done()
			s.publish(part, payload)
		}(this.shards[i], part)
	}
	wg.Wait()

	return nil
}

func (this *ShardRouter) DropQueue(q *mailbox.Queue) error {
	if q == nil {
		return ErrInvalidQueue
	}

	for _, s := range this.shards {
		s.dropQueue(q)
	}

	return nil
}

// SubscriberCount reports how many queues are subscribed to topic. Used by
// the debug surface and tests.
func (this *ShardRouter) SubscriberCount(topic string) int {
	return this.shards[this.shardOf(topic)].subscriberCount(topic)
}

// TopicCount reports the number of live topic entries across all shards.
func (this *ShardRouter) TopicCount() int {
	n := 0
	for _, s := range this.shards {
		n += s.topicCount()
	}

	return n
}
