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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bosky101/kraken/mailbox"
)

func feedAll(t *testing.T, d *decoder, chunks ...string) []request {
	t.Helper()

	var reqs []request
	for _, c := range chunks {
		rs, err := d.feed([]byte(c))
		require.NoError(t, err)
		reqs = append(reqs, rs...)
	}
	return reqs
}

func TestDecodeSimpleCommands(t *testing.T) {
	var d decoder

	reqs := feedAll(t, &d, "get messages\r\nquit\r\n")
	require.Len(t, reqs, 2)
	require.Equal(t, verbGetMessages, reqs[0].verb)
	require.Equal(t, verbQuit, reqs[1].verb)
}

func TestDecodeGetMessagesTrailingSpace(t *testing.T) {
	var d decoder

	reqs := feedAll(t, &d, "get messages \r\n")
	require.Len(t, reqs, 1)
	require.Equal(t, verbGetMessages, reqs[0].verb)
}

func TestDecodeSetCommands(t *testing.T) {
	var d decoder

	reqs := feedAll(t, &d, "set subscribe 0 0 3\r\nfoo\r\n")
	require.Len(t, reqs, 1)
	require.Equal(t, verbSubscribe, reqs[0].verb)
	require.Equal(t, []byte("foo"), reqs[0].payload)

	reqs = feedAll(t, &d, "set unsubscribe 0 0 7\r\nfoo bar\r\n")
	require.Len(t, reqs, 1)
	require.Equal(t, verbUnsubscribe, reqs[0].verb)
	require.Equal(t, []byte("foo bar"), reqs[0].payload)

	reqs = feedAll(t, &d, "set publish 0 0 17\r\nMESSAGE a 2\r\nm1\r\n\r\n")
	require.Len(t, reqs, 1)
	require.Equal(t, verbPublish, reqs[0].verb)
	require.Equal(t, []byte("MESSAGE a 2\r\nm1\r\n"), reqs[0].payload)
}

func TestDecodeChunkedAtEveryByte(t *testing.T) {
	// The machine must be insensitive to where reads split the stream.
	wire := "set publish 0 0 17\r\nMESSAGE a 2\r\nm1\r\n\r\nget messages\r\n"

	var d decoder
	var reqs []request
	for i := 0; i < len(wire); i++ {
		rs, err := d.feed([]byte(wire[i : i+1]))
		require.NoError(t, err)
		reqs = append(reqs, rs...)
	}

	require.Len(t, reqs, 2)
	require.Equal(t, verbPublish, reqs[0].verb)
	require.Equal(t, []byte("MESSAGE a 2\r\nm1\r\n"), reqs[0].payload)
	require.Equal(t, verbGetMessages, reqs[1].verb)
}

func TestDecodeBinaryPayload(t *testing.T) {
	// CRLF and NUL inside the counted body must not confuse framing.
	body := "a\r\nb\nc\x00"
	var d decoder

	reqs := feedAll(t, &d, "set subscribe 0 0 7\r\n"+body+"\r\n")
	require.Len(t, reqs, 1)
	require.Equal(t, []byte(body), reqs[0].payload)

	// And the machine is back in line state.
	reqs = feedAll(t, &d, "quit\r\n")
	require.Len(t, reqs, 1)
	require.Equal(t, verbQuit, reqs[0].verb)
}

func TestDecodeZeroLengthBody(t *testing.T) {
	var d decoder

	reqs := feedAll(t, &d, "set publish 0 0 0\r\n\r\n")
	require.Len(t, reqs, 1)
	require.Equal(t, verbPublish, reqs[0].verb)
	require.Empty(t, reqs[0].payload)
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		wire string
	}{
		{"unknown command", "frobnicate\r\n"},
		{"unknown get key", "get other\r\n"},
		{"unknown set command", "set fetch 0 0 3\r\n"},
		{"missing fields", "set subscribe 0 3\r\n"},
		{"bad flags", "set subscribe x 0 3\r\n"},
		{"bad exptime", "set subscribe 0 x 3\r\n"},
		{"bad byte count", "set subscribe 0 0 x\r\n"},
		{"negative byte count", "set subscribe 0 0 -1\r\n"},
		{"body overrun", "set subscribe 0 0 3\r\nfoobar\r\n"},
		{"body missing crlf", "set subscribe 0 0 3\r\nfooXY"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var d decoder
			_, err := d.feed([]byte(tc.wire))
			require.Error(t, err)
		})
	}
}

func TestSplitTopics(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitTopics([]byte("a b")))
	require.Equal(t, []string{"a", "b"}, splitTopics([]byte(" a  b ")))
	require.Nil(t, splitTopics(nil))
	require.Nil(t, splitTopics([]byte("   ")))
}

func TestParsePublishBlock(t *testing.T) {
	block := []byte("MESSAGE a b 2\r\nm1\r\nMESSAGE c 4\r\nm\r\n2\r\n")

	entries, err := parsePublishBlock(block)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []string{"a", "b"}, entries[0].Topics)
	require.Equal(t, []byte("m1"), entries[0].Payload)
	require.Equal(t, []string{"c"}, entries[1].Topics)
	require.Equal(t, []byte("m\r\n2"), entries[1].Payload)
}

func TestParsePublishBlockEmpty(t *testing.T) {
	entries, err := parsePublishBlock(nil)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestParsePublishBlockErrors(t *testing.T) {
	cases := []struct {
		name  string
		block string
	}{
		{"header no crlf", "MESSAGE a 2"},
		{"wrong keyword", "NOTAMSG a 2\r\nm1\r\n"},
		{"no topics", "MESSAGE 2\r\nm1\r\n"},
		{"bad length", "MESSAGE a x\r\nm1\r\n"},
		{"negative length", "MESSAGE a -1\r\nm1\r\n"},
		{"truncated payload", "MESSAGE a 10\r\nm1\r\n"},
		{"payload no crlf", "MESSAGE a 2\r\nm1XY"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parsePublishBlock([]byte(tc.block))
			require.Error(t, err)
		})
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	entries := []mailbox.Entry{
		{Topics: []string{"a"}, Payload: []byte("m1")},
		{Topics: []string{"x", "y", "z"}, Payload: []byte("a\r\nb\nc\x00")},
		{Topics: []string{"empty"}, Payload: []byte{}},
	}

	got, err := parsePublishBlock(serializeEntries(entries))
	require.NoError(t, err)
	require.Len(t, got, len(entries))
	for i := range entries {
		require.Equal(t, entries[i].Topics, got[i].Topics)
		require.Equal(t, entries[i].Payload, got[i].Payload)
	}
}

func TestEncodeValueResponse(t *testing.T) {
	entries := []mailbox.Entry{{Topics: []string{"a"}, Payload: []byte("m1")}}

	want := "VALUE messages 0 17\r\nMESSAGE a 2\r\nm1\r\n\r\nEND\r\n"
	require.Equal(t, []byte(want), encodeValueResponse(entries))
}
