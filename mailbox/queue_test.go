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

package mailbox

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueueFIFO(t *testing.T) {
	q := New()

	q.Enqueue([]string{"a"}, []byte("one"))
	q.Enqueue([]string{"a", "b"}, []byte("two"))
	q.Enqueue([]string{"c"}, []byte("three"))

	entries := q.Drain()
	require.Len(t, entries, 3)
	require.Equal(t, []byte("one"), entries[0].Payload)
	require.Equal(t, []byte("two"), entries[1].Payload)
	require.Equal(t, []byte("three"), entries[2].Payload)
	require.Equal(t, []string{"a", "b"}, entries[1].Topics)
}

func TestQueueDrainIdempotentAfterEmpty(t *testing.T) {
	q := New()

	q.Enqueue([]string{"t"}, []byte("m"))
	require.Len(t, q.Drain(), 1)
	require.Empty(t, q.Drain())
	require.Empty(t, q.Drain())
}

func TestQueueEnqueueAfterStop(t *testing.T) {
	q := New()

	q.Enqueue([]string{"t"}, []byte("buffered"))
	q.Stop()

	// Late publishes losing the teardown race must not crash or deliver.
	q.Enqueue([]string{"t"}, []byte("dropped"))

	require.True(t, q.Stopped())
	require.Empty(t, q.Drain())
}

func TestQueueStopIdempotent(t *testing.T) {
	q := New()

	q.Stop()
	q.Stop()
	require.True(t, q.Stopped())
}

func TestQueueSubscriptionBookkeeping(t *testing.T) {
	q := New()

	q.RecordSubscription([]string{"a", "b"})
	q.RecordSubscription([]string{"b", "c"})
	require.ElementsMatch(t, []string{"a", "b", "c"}, q.SubscribedTopics())

	q.ForgetSubscription([]string{"b", "missing"})
	require.ElementsMatch(t, []string{"a", "c"}, q.SubscribedTopics())

	q.ForgetSubscription([]string{"a", "c"})
	require.Empty(t, q.SubscribedTopics())
}

func TestQueueIdentity(t *testing.T) {
	q1 := New()
	q2 := New()

	require.NotEmpty(t, q1.ID())
	require.NotEqual(t, q1.ID(), q2.ID())
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	q := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue([]string{"t"}, []byte(fmt.Sprintf("%d-%d", i, j)))
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 800, q.Len())
	require.Len(t, q.Drain(), 800)
}
