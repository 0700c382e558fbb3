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
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bosky101/kraken/commons"
	"github.com/bosky101/kraken/config"
	"github.com/bosky101/kraken/mailbox"
	"github.com/bosky101/kraken/metrics"
	"github.com/bosky101/kraken/router"
)

var (
	ErrInvalidConnectionType = errors.New("service: Invalid connection type")
	ErrServerClosed          = errors.New("service: Server closed")
)

// Server accepts broker connections and enforces the client cap. Each
// accepted connection is serviced in its own goroutine; connection failures
// never propagate past that goroutine.
type Server struct {
	cfg *config.Config
	rtr router.Router

	ln    net.Listener
	wsSrv *http.Server

	mu   sync.Mutex
	svcs map[uint64]*service

	// Live admitted connections, compared against cfg.MaxTCPClients.
	numClients int32

	closed int64
	wg     sync.WaitGroup
}

func NewServer(cfg *config.Config, rtr router.Router) *Server {
	return &Server{
		cfg:  cfg,
		rtr:  rtr,
		svcs: make(map[uint64]*service),
	}
}

// ListenAndServe accepts connections on uri (e.g. "tcp://:12355") until
// Close is called. It blocks for the listener's lifetime.
func (this *Server) ListenAndServe(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return err
	}

	ln, err := net.Listen(u.Scheme, u.Host)
	if err != nil {
		return err
	}

	return this.Serve(ln)
}

// Serve accepts connections from ln. Tests use it to listen on an ephemeral
// port before serving.
func (this *Server) Serve(ln net.Listener) error {
	this.mu.Lock()
	this.ln = ln
	this.mu.Unlock()

	commons.Log.Info("server is ready", zap.String("addr", ln.Addr().String()))

	var tempDelay time.Duration // how long to sleep on accept failure

	for {
		conn, err := ln.Accept()

		// Borrowed from go1.3.3/src/pkg/net/http/server.go:1699
		if err != nil {
			if atomic.LoadInt64(&this.closed) == 1 {
				return ErrServerClosed
			}

			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				commons.Log.Error("accept error; retrying",
					zap.Error(err),
					zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		this.wg.Add(1)
		go this.handleConnection(conn)
	}
}

// handleConnection admits one connection, creating its mailbox and servicing
// it until it ends. At the cap the client is refused with a SERVER_ERROR and
// closed before any queue exists for it.
func (this *Server) handleConnection(conn net.Conn) {
	defer this.wg.Done()

	if n := atomic.AddInt32(&this.numClients, 1); n > int32(this.cfg.MaxTCPClients) {
		atomic.AddInt32(&this.numClients, -1)
		metrics.ConnectionsTotal.WithLabelValues("refused").Inc()

		commons.Log.Warn("refusing connection, too many clients",
			zap.Int("max", this.cfg.MaxTCPClients))

		conn.Write(respServerBusy)
		conn.Close()
		return
	}

	metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
	metrics.ConnectionsLive.Inc()

	svc := newService(conn, this.cfg, this.rtr)
	svc.server = this

	this.mu.Lock()
	this.svcs[svc.id] = svc
	this.mu.Unlock()

	commons.Log.Info("connection established",
		zap.Uint64("svc", svc.id),
		zap.String("client", svc.cid),
		zap.String("remote", conn.RemoteAddr().String()))

	svc.serve()
}

// release is called exactly once from service.stop.
func (this *Server) release(svc *service) {
	this.mu.Lock()
	delete(this.svcs, svc.id)
	this.mu.Unlock()

	atomic.AddInt32(&this.numClients, -1)
	metrics.ConnectionsLive.Dec()
}

// NumClients reports the number of currently admitted connections.
func (this *Server) NumClients() int {
	return int(atomic.LoadInt32(&this.numClients))
}

// Close stops accepting, then tears down every live connection; each runs
// its own queue teardown. Blocks until all connection goroutines exit.
func (this *Server) Close() error {
	doit := atomic.CompareAndSwapInt64(&this.closed, 0, 1)
	if !doit {
		return nil
	}

	this.mu.Lock()
	ln := this.ln
	wsSrv := this.wsSrv
	svcs := make([]*service, 0, len(this.svcs))
	for _, svc := range this.svcs {
		svcs = append(svcs, svc)
	}
	this.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	if wsSrv != nil {
		wsSrv.Close()
	}

	for _, svc := range svcs {
		svc.stop()
	}

	this.wg.Wait()

	commons.Log.Info("server stopped")
	return nil
}

func newService(conn net.Conn, cfg *config.Config, rtr router.Router) *service {
	return &service{
		id:    atomic.AddUint64(&gsvcid, 1),
		cid:   ClientName(),
		conn:  conn,
		cfg:   cfg,
		rtr:   rtr,
		queue: mailbox.New(),
	}
}
