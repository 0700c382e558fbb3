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
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bosky101/kraken/commons"
)

// websocketConn wraps a websocket.Conn to satisfy the net.Conn interface, so
// websocket clients go through the same connection state machine as TCP
// clients.
type websocketConn struct {
	buf        *bytes.Buffer
	readMutex  sync.Mutex
	writeMutex sync.Mutex
	*websocket.Conn
}

func (w *websocketConn) Read(p []byte) (n int, err error) {
	// If the buffer is empty, fill it from the socket
	if w.buf.Len() == 0 {
		w.readMutex.Lock()
		_, msg, err := w.ReadMessage()
		w.readMutex.Unlock()
		if err != nil {
			return 0, err
		}
		if _, err = w.buf.Write(msg); err != nil {
			return 0, err
		}
	}
	// Read bytes from the buffer
	return w.buf.Read(p)
}

func (w *websocketConn) Write(p []byte) (n int, err error) {
	w.writeMutex.Lock()
	err = w.WriteMessage(websocket.BinaryMessage, p)
	w.writeMutex.Unlock()
	return len(p), err
}

func (w *websocketConn) SetReadDeadline(t time.Time) (err error) {
	w.readMutex.Lock()
	err = w.Conn.SetReadDeadline(t)
	w.readMutex.Unlock()
	return err
}

func (w *websocketConn) SetWriteDeadline(t time.Time) (err error) {
	w.writeMutex.Lock()
	err = w.Conn.SetWriteDeadline(t)
	w.writeMutex.Unlock()
	return err
}

func (w *websocketConn) SetDeadline(t time.Time) error {
	if err := w.SetReadDeadline(t); err != nil {
		return err
	}
	return w.SetWriteDeadline(t)
}

// newWebsocketConn wraps the provided websocket.Conn and returns a new
// websocketConn instance
func newWebsocketConn(ws *websocket.Conn) *websocketConn {
	return &websocketConn{
		buf:  bytes.NewBuffer(nil),
		Conn: ws,
	}
}

// websocketHandler upgrades requests and hands the wrapped connections to
// the regular admission path.
func (this *Server) websocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			commons.Log.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		this.wg.Add(1)
		go this.handleConnection(newWebsocketConn(ws))
	})

	return mux
}

// ListenAndServeWebsocket serves the broker protocol to websocket clients on
// addr. Each upgraded connection counts against max_tcp_clients like any
// other. Blocks until Close.
func (this *Server) ListenAndServeWebsocket(addr string) error {
	srv := &http.Server{Addr: addr, Handler: this.websocketHandler()}

	this.mu.Lock()
	this.wsSrv = srv
	this.mu.Unlock()

	commons.Log.Info("websocket listener ready", zap.String("addr", addr))

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return ErrServerClosed
	}
	return err
}
