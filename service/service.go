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

package service

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bosky101/kraken/commons"
	"github.com/bosky101/kraken/config"
	"github.com/bosky101/kraken/mailbox"
	"github.com/bosky101/kraken/metrics"
	"github.com/bosky101/kraken/router"
)

const (
	// Read chunk size for the request stream.
	defaultReadChunk = 4096
)

var (
	gsvcid uint64 = 0
)

type stat struct {
	bytes int64
	msgs  int64
}

func (this *stat) increment(n int64) {
	atomic.AddInt64(&this.bytes, n)
	atomic.AddInt64(&this.msgs, 1)
}

// ClientName returns a fresh identifier for a connection. It is part of the
// production surface: the server names every accepted connection with it and
// tooling may use it to label client-side sessions.
func ClientName() string {
	return "client-" + uuid.NewString()
}

// service is the state for one accepted connection. It exclusively owns its
// mailbox queue: shards only ever hold back references, and stop() evicts
// those before the service is released.
type service struct {
	// The ID of this service, a number incremented for every connection.
	id uint64

	// client ID, for logs.
	cid string

	conn net.Conn
	cfg  *config.Config

	rtr   router.Router
	queue *mailbox.Queue

	dec decoder

	// Whether this service is closed or not.
	closed int64

	// The server that accepted this connection, nil in tests that drive
	// the service directly.
	server *Server

	inStat  stat
	outStat stat
}

// serve runs the request loop. It is the connection's single unit of
// execution; any panic in command handling is contained here and still runs
// the queue teardown.
func (this *service) serve() {
	defer func() {
		if r := recover(); r != nil {
			commons.Log.Error("recovering from panic",
				zap.Uint64("svc", this.id),
				zap.String("client", this.cid),
				zap.Any("panic", r))
		}

		this.stop()
	}()

	buf := make([]byte, defaultReadChunk)

	for {
		timeout := time.Duration(this.cfg.ClientTimeout) * time.Second
		this.conn.SetReadDeadline(time.Now().Add(timeout))

		n, err := this.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				commons.Log.Error("client timed out",
					zap.Uint64("svc", this.id),
					zap.String("client", this.cid))
			}
			// EOF and peer resets close silently.
			return
		}

		this.inStat.increment(int64(n))

		reqs, err := this.dec.feed(buf[:n])
		if err != nil {
			commons.Log.Error("protocol error",
				zap.Uint64("svc", this.id),
				zap.String("client", this.cid),
				zap.Error(err))
			this.write(respError)
			return
		}

		for _, req := range reqs {
			if done := this.process(req); done {
				return
			}
		}
	}
}

// process dispatches one request and reports whether the connection is done.
func (this *service) process(req request) bool {
	switch req.verb {
	case verbQuit:
		return true

	case verbGetMessages:
		entries := this.queue.Drain()
		if len(entries) == 0 {
			return !this.write(respEnd)
		}
		return !this.write(encodeValueResponse(entries))

	case verbSubscribe:
		this.rtr.Subscribe(this.queue, splitTopics(req.payload))
		return !this.write(respStored)

	case verbUnsubscribe:
		this.rtr.Unsubscribe(this.queue, splitTopics(req.payload))
		return !this.write(respStored)

	case verbPublish:
		entries, err := parsePublishBlock(req.payload)
		if err != nil {
			commons.Log.Error("bad publish block",
				zap.Uint64("svc", this.id),
				zap.String("client", this.cid),
				zap.Error(err))
			this.write(respError)
			return true
		}

		for _, e := range entries {
			this.rtr.Publish(this.queue, e.Topics, e.Payload)
			metrics.MessagesPublished.Inc()
		}
		return !this.write(respStored)
	}

	return true
}

// write sends one response, reporting success. Writes happen on the
// connection goroutine only, never under a shard lock, so TCP backpressure
// stalls only this client.
func (this *service) write(b []byte) bool {
	n, err := this.conn.Write(b)
	this.outStat.increment(int64(n))

	return err == nil
}

// stop tears the connection down: close the socket, kill the mailbox, then
// evict every shard reference to it. Runs exactly once no matter how many
// paths race into it, and must complete the router eviction before the queue
// is released so no dangling reference survives.
func (this *service) stop() {
	doit := atomic.CompareAndSwapInt64(&this.closed, 0, 1)
	if !doit {
		return
	}

	if this.conn != nil {
		this.conn.Close()
	}

	this.queue.Stop()
	this.rtr.DropQueue(this.queue)

	if this.server != nil {
		this.server.release(this)
	}

	commons.Log.Info("connection closed",
		zap.Uint64("svc", this.id),
		zap.String("client", this.cid),
		zap.Int64("bytes_in", atomic.LoadInt64(&this.inStat.bytes)),
		zap.Int64("bytes_out", atomic.LoadInt64(&this.outStat.bytes)))
}
