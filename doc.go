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

// Kraken is a lightweight topic based publish/subscribe broker. Clients
// subscribe to arbitrary sets of topic names, publish messages to topics,
// and drain the messages routed to them with an explicit fetch. Delivery is
// pull based: messages accumulate in a per client mailbox until the client
// asks for them.
//
// The wire protocol mimics the memcached text protocol, so off-the-shelf
// memcached clients can drive the broker:
//
//	set subscribe 0 0 <bytes>\r\n<topic> <topic> ...\r\n      -> STORED\r\n
//	set unsubscribe 0 0 <bytes>\r\n<topic> <topic> ...\r\n    -> STORED\r\n
//	set publish 0 0 <bytes>\r\n<publish block>\r\n            -> STORED\r\n
//	get messages\r\n                                          -> VALUE ... END\r\n or END\r\n
//	quit\r\n
//
// where a publish block is a sequence of entries of the form
//
//	MESSAGE <topic1> ... <topicK> <payload_bytes>\r\n<payload>\r\n
//
// Payloads are 8-bit clean; their length is explicit, so they may contain
// CRLF or NUL bytes.
//
// The primary package of interest is package service, which provides the
// Server and a protocol Client in library form. Routing lives in package
// router: the topic space is partitioned across a fixed number of shards,
// each serializing its own mutations, so publishes to disjoint topic sets
// proceed in parallel. Per client mailboxes live in package mailbox.
//
// The broker holds no persistent state. A restart discards all
// subscriptions and buffered messages.
//
// A quick example of how to embed the broker:
//
//	func main() {
//	    cfg := config.Default()
//	    rtr := router.NewShardRouter(cfg)
//	    srv := service.NewServer(cfg, rtr)
//
//	    // Listen and serve connections at localhost:12355
//	    err := srv.ListenAndServe("tcp://:12355")
//	    fmt.Printf("%v", err)
//	}
package kraken
