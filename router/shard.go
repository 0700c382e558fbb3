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

package router

import (
	"sync"

	"go.uber.org/zap"

	"github.com/bosky101/kraken/commons"
	"github.com/bosky101/kraken/mailbox"
	"github.com/bosky101/kraken/metrics"
)

// shard owns one partition of the topic space. Two inverse maps are kept in
// agreement under the shard mutex: a queue appears in subs[t] iff t appears
// in owned[q]. The owned map is what makes dropQueue cheap at teardown.
//
// The queue pointers here are back references only: the owning connection
// evicts them via dropQueue before releasing the queue, so the shard never
// keeps a dead client's mailbox alive.
type shard struct {
	id int

	mu    sync.Mutex
	subs  map[string]map[*mailbox.Queue]struct{}
	owned map[*mailbox.Queue]map[string]struct{}

	minFanoutToWarn int
}

func newShard(id, minFanoutToWarn int) *shard {
	return &shard{
		id:              id,
		subs:            make(map[string]map[*mailbox.Queue]struct{}),
		owned:           make(map[*mailbox.Queue]map[string]struct{}),
		minFanoutToWarn: minFanoutToWarn,
	}
}

// subscribe installs q for each topic of this shard's partition. Already
// subscribed pairs are no-ops.
func (this *shard) subscribe(q *mailbox.Queue, topics []string) {
	this.mu.Lock()
	defer this.mu.Unlock()

	for _, t := range topics {
		set, ok := this.subs[t]
		if !ok {
			set = make(map[*mailbox.Queue]struct{})
			this.subs[t] = set
		}
		set[q] = struct{}{}

		owned, ok := this.owned[q]
		if !ok {
			owned = make(map[string]struct{})
			this.owned[q] = owned
		}
		owned[t] = struct{}{}
	}

	q.RecordSubscription(topics)
}

// unsubscribe removes q from each topic, garbage-collecting topic entries
// whose last subscriber departed. Unknown pairs are no-ops.
func (this *shard) unsubscribe(q *mailbox.Queue, topics []string) {
	this.mu.Lock()
	defer this.mu.Unlock()

	for _, t := range topics {
		if set, ok := this.subs[t]; ok {
			delete(set, q)
			if len(set) == 0 {
				delete(this.subs, t)
			}
		}

		if owned, ok := this.owned[q]; ok {
			delete(owned, t)
			if len(owned) == 0 {
				delete(this.owned, q)
			}
		}
	}

	q.ForgetSubscription(topics)
}

// publish enqueues payload once into each distinct subscriber of the given
// topics, carrying the subset of topics that queue actually matched here.
// The enqueue happens inside the shard's critical section, which is safe
// because mailbox enqueues are non-blocking and never fail.
func (this *shard) publish(topics []string, payload []byte) {
	this.mu.Lock()
	defer this.mu.Unlock()

	targets := make(map[*mailbox.Queue][]string)
	for _, t := range topics {
		for q := range this.subs[t] {
			targets[q] = append(targets[q], t)
		}
	}

	if len(targets) > this.minFanoutToWarn {
		metrics.FanoutWarnings.Inc()
		commons.Log.Warn("publish fan-out above threshold",
			zap.Int("shard", this.id),
			zap.Int("fanout", len(targets)),
			zap.Int("threshold", this.minFanoutToWarn))
	}

	for q, matched := range targets {
		q.Enqueue(matched, payload)
		metrics.MessagesDelivered.Inc()
	}
}

// dropQueue evicts every reference to q from this shard, using the owned map
// to find the affected topics. Idempotent.
func (this *shard) dropQueue(q *mailbox.Queue) {
	this.mu.Lock()
	defer this.mu.Unlock()

	for t := range this.owned[q] {
		if set, ok := this.subs[t]; ok {
			delete(set, q)
			if len(set) == 0 {
				delete(this.subs, t)
			}
		}
	}

	delete(this.owned, q)
}

func (this *shard) subscriberCount(topic string) int {
	this.mu.Lock()
	defer this.mu.Unlock()

	return len(this.subs[topic])
}

func (this *shard) topicCount() int {
	this.mu.Lock()
	defer this.mu.Unlock()

	return len(this.subs)
}
