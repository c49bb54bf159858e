// Copyright 2018 Cryptowatch. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license which can be found in the LICENSE file.

/*
Package websocket provides a client for a quote gateway: it sends typed
requests over a single websocket connection, retrieves paged history, keeps
track of real-time subscriptions and restores them every time the connection
is re-established.

Frames

Every message is a protobuf-encoded object carrying a request id, a protocol
id, a result code and a body; see package proto/quote. Responses are matched
to requests by id; frames without an id are pushes for subscribed pairs. A
single 0x01 byte is a heartbeat.

WSParams

QuoteClient uses WSParams to specify connection options.

	type WSParams struct {
		URL           string
		Header        http.Header
		ReconnectOpts *ReconnectOpts
		ReadTimeout   time.Duration
	}

URL defaults to DefaultGatewayURL. ReconnectOpts determine how (and if) the
client should reconnect. By default, the client will reconnect with linear
backoff up to 30 seconds.

Basic Usage

The typical workflow is to create a client, set event handlers on it, then
initiate the connection:

	client, err := websocket.NewQuoteClient(&websocket.QuoteClientParams{
		WSParams: &websocket.WSParams{
			URL: "ws://127.0.0.1:33333",
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	client.OnPush(func(push *websocket.Push) {
		if push.Kind.IsKLine() {
			kl, err := push.KLine()
			// ...
		}
	})

	client.OnSessionStateChange(func(prevState, curState websocket.SessionState) {
		log.Printf("session: %s -> %s", prevState, curState)
	})

	client.Connect()

	err = client.Subscribe(ctx,
		[]common.Instrument{"HK.00700", "US.AAPL"},
		[]common.SubType{common.SubTypeQuote, common.SubTypeK1M},
		websocket.SubscribeOpt{FirstPush: true},
	)

Subscriptions

Pairs (kind, instrument) acknowledged by the gateway are recorded in a
registry; a rejected subscription records nothing. After a reconnect, the
registry is replayed in batches: kinds having the same instruments are merged
into one request, k-line kinds are sent first, and the number of instruments
per k-line batch is bounded by QuotaOpts.SharedSubscriptionQuota divided by the
number of k-line kinds. If a batch fails, the remaining ones aren't sent, the
connection is dropped and the whole cycle starts over with the next
connection. The registry itself is never changed by resubscription.

The session state tells whether the registry is live on the gateway:

	idle -> reconnecting -> resubscribing -> stable
	                ^              |
	                +--------------+ (resubscription failed)

History

RequestHistoryKLine fetches candlesticks page by page until the gateway has
nothing more, or RetrieveOpts.TotalCap records have been collected; in the
latter case, RetrieveResult.Next continues the retrieval. If a page fails,
nothing is returned, and ResumeCursor(err) gives the cursor to retry from.

Errors

Request errors fall into three classes: ConfigurationError (invalid input,
nothing was sent), TransportError (send failure, timeout, disconnection) and
ProtocolError (the gateway rejected the request or answered with garbage).
Use IsConfigurationError, IsTransportError and IsProtocolError to tell them
apart.

Concurrency

All methods of the QuoteClient can be called concurrently from any number of
goroutines; requests are sent one at a time. State listeners are called by the
connection goroutine and must not block, nor make requests synchronously.
Push, session state and resubscribe result listeners are called by another
goroutine, one at a time.
*/
package websocket
