package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/y3sh/quote-sdk-go/client/websocket/internal"
	"github.com/y3sh/quote-sdk-go/proto/quote"
)

// WSParams contains options for the gateway connection.
type WSParams struct {
	// URL is the websocket URL of the gateway, e.g. ws://127.0.0.1:33333.
	URL string

	// Header is sent with the websocket handshake; optional.
	Header http.Header

	// ReconnectOpts controls reconnection; defaultReconnectOpts if nil.
	ReconnectOpts *ReconnectOpts

	// ReadTimeout is how long to wait for any data from the gateway, including
	// heartbeats, before considering the connection dead. Defaults to 30s.
	ReadTimeout time.Duration
}

// ReconnectOpts are settings used to reconnect after being disconnected. By
// default, the client reconnects right away the first time, and then waits
// 500ms longer after each failed attempt, up to 30 seconds. Without backoff,
// the client waits at least a second between attempts.
type ReconnectOpts struct {
	// Reconnect makes the client redial when the connection fails or drops.
	// Without it, the client goes to ConnStateDisconnected.
	Reconnect bool

	// Backoff makes the delay grow from ReconnectTimeout by 500ms per
	// failed attempt, up to MaxReconnectTimeout.
	Backoff bool

	// ReconnectTimeout is the initial delay.
	ReconnectTimeout time.Duration

	// MaxReconnectTimeout caps the delay; 30 seconds if zero.
	MaxReconnectTimeout time.Duration
}

var defaultReconnectOpts = &ReconnectOpts{
	Reconnect:           true,
	Backoff:             true,
	ReconnectTimeout:    0,
	MaxReconnectTimeout: 30 * time.Second,
}

// ConnState represents the websocket connection state
type ConnState int

// The following constants represent every possible ConnState.
const (
	// ConnStateDisconnected means the client is not connected and won't
	// connect until Connect is called.
	ConnStateDisconnected ConnState = iota

	// ConnStateWaitBeforeReconnect means the last connection attempt failed,
	// or the connection dropped, and the client waits before redialing.
	ConnStateWaitBeforeReconnect

	// ConnStateConnecting means we're dialing the gateway right now.
	ConnStateConnecting

	// ConnStateEstablished means the connection is ready to carry requests.
	ConnStateEstablished

	// ConnStateAny can be used with onStateChange() and onStateChangeOpt()
	// in order to listen for all states.
	ConnStateAny = -1
)

// ConnStateNames contains human-readable names for connection states.
var ConnStateNames = map[ConnState]string{
	ConnStateDisconnected:        "disconnected",
	ConnStateWaitBeforeReconnect: "wait-before-reconnect",
	ConnStateConnecting:          "connecting",
	ConnStateEstablished:         "established",
}

// linkConnStates maps link states to connection states. There is no
// handshake on top of the websocket, so an open link is an established
// connection.
var linkConnStates = map[internal.LinkState]ConnState{
	internal.LinkIdle:    ConnStateDisconnected,
	internal.LinkWaiting: ConnStateWaitBeforeReconnect,
	internal.LinkDialing: ConnStateConnecting,
	internal.LinkOpen:    ConnStateEstablished,
}

// StateCallback is called with the previous and the new connection state.
type StateCallback func(prevState, curState ConnState)

// OnErrorCB is a signature of an error listener. If the error is going to
// cause the disconnection, disconnecting is set to true. In this case, the
// error listeners are always called before the state listeners, so
// applications can just save the error, and display it later, when the
// disconnection actually happens.
type OnErrorCB func(err error, disconnecting bool)

// StateListenerOpt contains options for a state listener.
type StateListenerOpt struct {
	// OneOff listeners are removed after the first call.
	OneOff bool

	// CallImmediately listeners are called right away, with both states
	// being the current one, if the current state is the one listened to.
	CallImmediately bool
}

// ConnClosedCallback is called with the state the client went to after the
// connection was lost.
type ConnClosedCallback func(state ConnState)

type onPushCallback func(frame *quote.Frame)

type wsConnParamsInternal struct {
	// clock drives request timeouts; real clock if nil.
	clock clock.Clock
}

// wsConn is the gateway connection: it translates link states into
// ConnState, routes responses to the requests waiting for them, and hands
// pushes over to the onPush callback. It implements Transport.
//
// Everything happening to the connection is an event run by eventLoop, so
// listeners are never called concurrently, and the fields marked below need
// no locking.
type wsConn struct {
	params    WSParams
	link      *internal.Link
	responses *responseTable

	events chan func()

	// Owned by eventLoop.
	state      ConnState
	listeners  stateListeners
	onErrorCBs []OnErrorCB

	// expectDisconnection is set when we've dropped the connection ourselves
	// and have already told the error listeners why; the disconnection error
	// reported by the link is then not passed on.
	expectDisconnection bool

	// onPushCB is set before connecting and called from eventLoop.
	onPushCB onPushCallback
}

// newWsConn creates a disconnected gateway connection; clients register
// their listeners and then call connect.
func newWsConn(params *WSParams, paramsInternal *wsConnParamsInternal) (*wsConn, error) {
	p := *params

	if p.URL == "" {
		return nil, errors.Trace(newConfigurationError("URL is empty"))
	}

	if p.ReconnectOpts == nil {
		p.ReconnectOpts = defaultReconnectOpts
	}

	clk := paramsInternal.clock
	if clk == nil {
		clk = clock.New()
	}

	c := &wsConn{
		params:    p,
		responses: newResponseTable(clk),
		listeners: make(stateListeners),
		events:    make(chan func(), 8),
	}

	link, err := internal.NewLink(&internal.LinkParams{
		URL:    p.URL,
		Header: p.Header,

		Reconnect:           p.ReconnectOpts.Reconnect,
		Backoff:             p.ReconnectOpts.Backoff,
		ReconnectTimeout:    p.ReconnectOpts.ReconnectTimeout,
		MaxReconnectTimeout: p.ReconnectOpts.MaxReconnectTimeout,

		ReadTimeout: p.ReadTimeout,

		OnMessage: func(data []byte) {
			c.events <- func() {
				c.handleFrame(data)
			}
		},
		OnStateChange: func(_, cur internal.LinkState, cause error) {
			c.events <- func() {
				c.handleLinkState(cur, cause)
			}
		},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.link = link

	go c.eventLoop()

	return c, nil
}

func (c *wsConn) eventLoop() {
	for ev := range c.events {
		ev()
	}
}

// exec runs f on the event loop and waits for it. Calling it from a listener
// deadlocks.
func (c *wsConn) exec(f func()) {
	done := make(chan struct{})

	c.events <- func() {
		f()
		close(done)
	}

	<-done
}

// linkError translates link errors into the exported ones.
func linkError(err error) error {
	switch errors.Cause(err) {
	case internal.ErrNotConnected:
		return errors.Trace(ErrNotConnected)
	case internal.ErrConnLoopActive:
		return errors.Trace(ErrConnLoopActive)
	}

	return errors.Trace(err)
}

// onPush sets the push callback; call it before connect.
func (c *wsConn) onPush(cb onPushCallback) {
	c.onPushCB = cb
}

// connect starts connecting if the state is ConnStateDisconnected, or
// redials right away if it's ConnStateWaitBeforeReconnect. Otherwise it
// returns ErrConnLoopActive. It doesn't wait for the connection.
func (c *wsConn) connect() error {
	return linkError(c.link.Connect())
}

// close stops reconnecting and closes the connection, if any.
func (c *wsConn) close() error {
	return linkError(c.link.Close())
}

// reconnect drops the established connection; the link then reconnects as
// configured by ReconnectOpts. cause is reported to the on-error callbacks.
// Returns false if the connection wasn't established.
func (c *wsConn) reconnect(cause error) bool {
	var dropped bool

	c.exec(func() {
		if c.state != ConnStateEstablished {
			return
		}

		c.drop(cause, websocket.CloseNormalClosure, "reconnecting")
		dropped = true
	})

	return dropped
}

// drop closes the connection with the given code and text; reconnection, if
// enabled, goes on. A non-nil cause is reported to the error listeners in
// place of the error the link will report for the closure.
//
// NOTE: drop should only be called from the eventLoop.
func (c *wsConn) drop(cause error, closeCode int, text string) {
	if err := c.link.Drop(closeCode, text); err != nil {
		return
	}

	if cause != nil {
		c.expectDisconnection = true
		c.callOnErrorCBs(cause, true)
	}
}

// Send registers a response slot for id and writes data to the websocket.
// The slot is released by AwaitResponse, or right away if the write fails.
func (c *wsConn) Send(ctx context.Context, id string, data []byte) error {
	if err := c.responses.open(id); err != nil {
		return errors.Trace(err)
	}

	if err := c.link.Send(ctx, data); err != nil {
		c.responses.release(id)
		return linkError(err)
	}

	return nil
}

// AwaitResponse waits for the response to the request sent with the given
// id. It fails with ErrRequestTimeout once timeout elapses, with
// ErrNotConnected if the connection drops first, or with the context error.
func (c *wsConn) AwaitResponse(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	data, err := c.responses.await(ctx, id, timeout)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return data, nil
}

// onStateChange registers a listener for the given state, or for all states
// with ConnStateAny. Listeners run on the event loop: they must not block,
// nor call wsConn methods which wait for it.
func (c *wsConn) onStateChange(state ConnState, cb StateCallback) {
	c.onStateChangeOpt(state, cb, StateListenerOpt{})
}

func (c *wsConn) onStateChangeOpt(state ConnState, cb StateCallback, opt StateListenerOpt) {
	c.exec(func() {
		callNow := opt.CallImmediately && (state == c.state || state == ConnStateAny)

		if !opt.OneOff || !callNow {
			c.listeners.add(state, stateListener{cb: cb, opt: opt})
		}

		if callNow {
			cb(c.state, c.state)
		}
	})
}

func (c *wsConn) onError(cb OnErrorCB) {
	c.exec(func() {
		c.onErrorCBs = append(c.onErrorCBs, cb)
	})
}

// onConnClosed calls cb whenever the connection is lost, with
// ConnStateDisconnected or ConnStateWaitBeforeReconnect.
func (c *wsConn) onConnClosed(cb ConnClosedCallback) {
	closed := func(_, curState ConnState) {
		cb(curState)
	}

	c.onStateChange(ConnStateDisconnected, closed)
	c.onStateChange(ConnStateWaitBeforeReconnect, closed)
}

func (c *wsConn) connState() ConnState {
	var state ConnState

	c.exec(func() {
		state = c.state
	})

	return state
}

func (c *wsConn) url() string {
	return c.params.URL
}

// NOTE: callOnErrorCBs should only be called from the eventLoop.
func (c *wsConn) callOnErrorCBs(err error, disconnecting bool) {
	for _, cb := range c.onErrorCBs {
		cb(err, disconnecting)
	}
}

func (c *wsConn) handleLinkState(ls internal.LinkState, cause error) {
	state, ok := linkConnStates[ls]
	if !ok {
		panic(fmt.Sprintf("unknown link state %v", ls))
	}

	if cause != nil && !c.expectDisconnection {
		c.callOnErrorCBs(cause, true)
	}

	if state != ConnStateEstablished {
		c.expectDisconnection = false
	}

	c.setState(state)
}

func (c *wsConn) handleFrame(data []byte) {
	if c.state != ConnStateEstablished {
		return
	}

	frame, err := quote.UnmarshalFrame(data)
	if err != nil {
		// The stream can't be trusted any more: drop the connection and, if
		// enabled, start over.
		logger.Warningf("malformed frame from %s: %v", c.params.URL, err)
		c.drop(nil, websocket.CloseUnsupportedData, "")
		return
	}

	if frame.IsPush() {
		if c.onPushCB != nil {
			c.onPushCB(frame)
		}
		return
	}

	c.responses.deliver(frame.ID, data)
}

func (c *wsConn) setState(state ConnState) {
	prev := c.state
	if prev == state {
		return
	}
	c.state = state

	if prev == ConnStateEstablished {
		// Nobody is going to answer the requests sent over the old
		// connection.
		c.responses.failAll()
	}

	logger.Debugf("%s: %s -> %s", c.params.URL, ConnStateNames[prev], ConnStateNames[state])

	for _, l := range c.listeners.take(state) {
		l.cb(prev, state)
	}
}
