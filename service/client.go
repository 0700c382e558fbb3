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
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/bosky101/kraken/mailbox"
)

// Client speaks the broker protocol over one connection. Any memcached text
// protocol client works against the broker as well; this one exists for the
// examples, the tests and ops tooling.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to a broker at uri, e.g. "tcp://127.0.0.1:12355".
func Dial(uri string) (*Client, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "tcp" {
		return nil, ErrInvalidConnectionType
	}

	conn, err := net.Dial(u.Scheme, u.Host)
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Subscribe adds this client's queue to each topic.
func (this *Client) Subscribe(topics ...string) error {
	return this.store("subscribe", []byte(strings.Join(topics, " ")))
}

// Unsubscribe removes this client's queue from each topic.
func (this *Client) Unsubscribe(topics ...string) error {
	return this.store("unsubscribe", []byte(strings.Join(topics, " ")))
}

// Publish sends one message to every subscriber of any of the topics.
func (this *Client) Publish(payload []byte, topics ...string) error {
	if len(topics) == 0 {
		return fmt.Errorf("service: publish needs at least one topic")
	}

	block := serializeEntries([]mailbox.Entry{{Topics: topics, Payload: payload}})
	return this.store("publish", block)
}

// GetMessages drains this client's mailbox. A nil slice means it was empty.
func (this *Client) GetMessages() ([]mailbox.Entry, error) {
	if _, err := fmt.Fprintf(this.conn, "get messages\r\n"); err != nil {
		return nil, err
	}

	line, err := this.readLine()
	if err != nil {
		return nil, err
	}

	if line == "END" {
		return nil, nil
	}

	fields := strings.Split(line, " ")
	if len(fields) != 4 || fields[0] != "VALUE" || fields[1] != "messages" {
		return nil, fmt.Errorf("service: unexpected response %q", line)
	}

	n, err := strconv.Atoi(fields[3])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("service: bad VALUE size %q", fields[3])
	}

	// n bytes of entries, the frame CRLF, then the END line.
	block := make([]byte, n+2)
	if _, err := io.ReadFull(this.r, block); err != nil {
		return nil, err
	}

	end, err := this.readLine()
	if err != nil {
		return nil, err
	}
	if end != "END" {
		return nil, fmt.Errorf("service: expected END, got %q", end)
	}

	return parsePublishBlock(block[:n])
}

// Quit closes the session cleanly.
func (this *Client) Quit() error {
	if _, err := fmt.Fprintf(this.conn, "quit\r\n"); err != nil {
		return err
	}

	return this.conn.Close()
}

// Close drops the connection without a quit, as a crashing client would.
func (this *Client) Close() error {
	return this.conn.Close()
}

func (this *Client) store(cmd string, body []byte) error {
	if _, err := fmt.Fprintf(this.conn, "set %s 0 0 %d\r\n", cmd, len(body)); err != nil {
		return err
	}

	if _, err := this.conn.Write(body); err != nil {
		return err
	}

	if _, err := this.conn.Write(crlf); err != nil {
		return err
	}

	line, err := this.readLine()
	if err != nil {
		return err
	}

	if line != "STORED" {
		return fmt.Errorf("service: unexpected response %q", line)
	}

	return nil
}

func (this *Client) readLine() (string, error) {
	line, err := this.r.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}
