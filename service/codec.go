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
	"fmt"
	"strconv"
	"strings"

	"github.com/bosky101/kraken/mailbox"
)

// Wire protocol responses. All lines end in CRLF.
var (
	respStored     = []byte("STORED\r\n")
	respEnd        = []byte("END\r\n")
	respError      = []byte("ERROR\r\n")
	respServerBusy = []byte("SERVER_ERROR Too many clients\r\n")

	crlf = []byte("\r\n")
)

type verb int

const (
	verbQuit verb = iota
	verbGetMessages
	verbSubscribe
	verbUnsubscribe
	verbPublish
)

// request is one decoded client request. payload is only set for the set
// commands and excludes the body's terminating CRLF.
type request struct {
	verb    verb
	payload []byte
}

const (
	stateLine = iota
	stateBody
)

// decoder is the two-state machine for the framed request stream. The LINE
// state scans for CRLF-terminated command lines; the BODY state consumes
// exactly the declared byte count plus the trailing CRLF, driven by counts
// rather than line scanning so payloads stay 8-bit clean.
type decoder struct {
	state     int
	line      []byte
	cmd       verb
	remaining int
	body      []byte
}

// feed advances the machine with one chunk read off the wire and returns the
// requests completed by it. Any error is protocol-fatal: the caller must
// respond ERROR and close.
func (this *decoder) feed(chunk []byte) ([]request, error) {
	var reqs []request

	for len(chunk) > 0 {
		switch this.state {
		case stateLine:
			i := bytes.IndexByte(chunk, '\n')
			if i < 0 {
				this.line = append(this.line, chunk...)
				chunk = nil
				continue
			}

			this.line = append(this.line, chunk[:i+1]...)
			chunk = chunk[i+1:]

			req, body, err := this.parseLine(this.line)
			this.line = nil
			if err != nil {
				return nil, err
			}

			if !body {
				reqs = append(reqs, req)
			}

		case stateBody:
			// The body is framed by an exact count; a chunk running
			// past it means the client lost framing.
			if len(chunk) > this.remaining {
				return nil, fmt.Errorf("codec: %d body bytes remaining, got %d", this.remaining, len(chunk))
			}

			this.body = append(this.body, chunk...)
			this.remaining -= len(chunk)
			chunk = nil

			if this.remaining > 0 {
				continue
			}

			if !bytes.HasSuffix(this.body, crlf) {
				return nil, fmt.Errorf("codec: body not terminated by CRLF")
			}

			reqs = append(reqs, request{verb: this.cmd, payload: this.body[:len(this.body)-2]})
			this.body = nil
			this.state = stateLine
		}
	}

	return reqs, nil
}

// parseLine classifies one complete command line (CRLF included). For set
// commands it arms the BODY state and reports body=true; the request is
// emitted later when the body completes.
func (this *decoder) parseLine(line []byte) (req request, body bool, err error) {
	if !bytes.HasSuffix(line, crlf) {
		return req, false, fmt.Errorf("codec: line not terminated by CRLF")
	}

	s := string(line[:len(line)-2])

	switch s {
	case "quit":
		return request{verb: verbQuit}, false, nil

	// A trailing space before CRLF is accepted for compatibility with
	// clients that emit "get messages \r\n".
	case "get messages", "get messages ":
		return request{verb: verbGetMessages}, false, nil
	}

	fields := strings.Split(s, " ")
	if len(fields) != 5 || fields[0] != "set" {
		return req, false, fmt.Errorf("codec: unrecognized command %q", s)
	}

	var cmd verb
	switch fields[1] {
	case "subscribe":
		cmd = verbSubscribe
	case "unsubscribe":
		cmd = verbUnsubscribe
	case "publish":
		cmd = verbPublish
	default:
		return req, false, fmt.Errorf("codec: unrecognized set command %q", fields[1])
	}

	// Flags and exptime are parsed for wire compatibility but ignored.
	if _, err := strconv.Atoi(fields[2]); err != nil {
		return req, false, fmt.Errorf("codec: bad flags field %q", fields[2])
	}
	if _, err := strconv.Atoi(fields[3]); err != nil {
		return req, false, fmt.Errorf("codec: bad exptime field %q", fields[3])
	}

	n, err := strconv.Atoi(fields[4])
	if err != nil || n < 0 {
		return req, false, fmt.Errorf("codec: bad byte count %q", fields[4])
	}

	this.cmd = cmd
	this.remaining = n + 2
	this.state = stateBody

	return req, true, nil
}

// splitTopics tokenizes a subscribe/unsubscribe payload on single spaces.
// Empty tokens are dropped, so an empty payload yields no topics.
func splitTopics(payload []byte) []string {
	var topics []string
	for _, t := range strings.Split(string(payload), " ") {
		if t != "" {
			topics = append(topics, t)
		}
	}

	return topics
}

// parsePublishBlock decodes a sequence of publish entries:
//
//	MESSAGE <topic1> ... <topicK> <payload_bytes>\r\n<payload>\r\n
//
// In an entry header every token but the last is a topic name; the last is
// the payload length. Payload bytes are opaque and may contain CRLF. A zero
// length block yields zero entries.
func parsePublishBlock(block []byte) ([]mailbox.Entry, error) {
	var entries []mailbox.Entry

	for len(block) > 0 {
		i := bytes.Index(block, crlf)
		if i < 0 {
			return nil, fmt.Errorf("codec: publish entry header not terminated by CRLF")
		}

		header := string(block[:i])
		block = block[i+2:]

		fields := strings.Split(header, " ")
		if len(fields) < 3 || fields[0] != "MESSAGE" {
			return nil, fmt.Errorf("codec: bad publish entry header %q", header)
		}

		n, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("codec: bad payload length in %q", header)
		}

		if len(block) < n+2 {
			return nil, fmt.Errorf("codec: publish entry payload truncated")
		}

		if !bytes.Equal(block[n:n+2], crlf) {
			return nil, fmt.Errorf("codec: publish entry payload not terminated by CRLF")
		}

		entries = append(entries, mailbox.Entry{
			Topics:  fields[1 : len(fields)-1],
			Payload: block[:n],
		})
		block = block[n+2:]
	}

	return entries, nil
}

// serializeEntries encodes drained mailbox entries with the same grammar the
// publish command uses.
func serializeEntries(entries []mailbox.Entry) []byte {
	var buf bytes.Buffer

	for _, e := range entries {
		buf.WriteString("MESSAGE ")
		buf.WriteString(strings.Join(e.Topics, " "))
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(len(e.Payload)))
		buf.Write(crlf)
		buf.Write(e.Payload)
		buf.Write(crlf)
	}

	return buf.Bytes()
}

// encodeValueResponse frames drained entries as a memcached VALUE response.
// The declared size counts the serialized entries; the CRLF between them and
// END is the frame terminator and is not counted.
func encodeValueResponse(entries []mailbox.Entry) []byte {
	block := serializeEntries(entries)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "VALUE messages 0 %d\r\n", len(block))
	buf.Write(block)
	buf.Write(crlf)
	buf.Write(respEnd)

	return buf.Bytes()
}
