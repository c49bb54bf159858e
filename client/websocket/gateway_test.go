package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/y3sh/quote-sdk-go/common"
	"github.com/y3sh/quote-sdk-go/proto/quote"
	"google.golang.org/protobuf/types/known/structpb"
)

type eventType int

const (
	eventTypeConnOpened eventType = iota
	eventTypeMsg
)

// websocketEvent represents an event like new opened connection or new
// received websocket message
type websocketEvent struct {
	eventType eventType

	// The fields below are only relevant if eventType is eventTypeMsg
	messageType int
	data        []byte
	err         error
}

// serverTx is a message for the test server to send to the client.
type serverTx struct {
	messageType int
	data        []byte
}

type testServerParams struct {
	rx  <-chan websocketEvent
	tx  chan<- serverTx
	url string
}

func withTestServer(t *testing.T, cb func(tp *testServerParams) error) error {
	// tx and rx are channels to communicate raw websocket messages with the
	// test server: everything received by the server will be delivered to rx,
	// and everything sent to tx will be sent by the server to the client.
	rx := make(chan websocketEvent, 128)
	tx := make(chan serverTx, 128)

	// connLimiter makes sure only one conn is open at a time: when the client
	// reconnects right away, the server could otherwise see the new conn
	// before the old one is closed.
	connLimiter := make(chan struct{}, 1)

	ts := httptest.NewServer(http.HandlerFunc(getGatewayHandler(t, rx, tx, connLimiter)))
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	if err != nil {
		return errors.Trace(err)
	}
	u.Scheme = "ws"

	if err := cb(&testServerParams{
		rx:  rx,
		tx:  tx,
		url: u.String(),
	}); err != nil {
		return errors.Trace(err)
	}

	return nil
}

func frameString(data []byte) string {
	frame, err := quote.UnmarshalFrame(data)
	if err != nil {
		return fmt.Sprintf("failed to unmarshal: %s", err)
	}

	return fmt.Sprintf("id=%q proto=%s ret=%d body={%s}", frame.ID, frame.ProtoID, frame.RetType, proto.CompactTextString(frame.Body))
}

// getGatewayHandler returns an http handler which upgrades the connection to
// websocket, forwards events (opened connections and received messages) to the
// rx channel, and forwards messages from tx channel to websocket.
//
// NOTE that only one connection should be opened at a time, since currently
// there's no way to receive/send stuff from/to a particular connection in case
// there are many.
func getGatewayHandler(
	t *testing.T,
	rx chan<- websocketEvent,
	tx <-chan serverTx,
	connLimiter chan struct{},
) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		connLimiter <- struct{}{}
		defer func() {
			<-connLimiter
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		upgrader := websocket.Upgrader{}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer ws.Close()

		t.Logf("new gateway websocket conn is opened")

		rx <- websocketEvent{
			eventType: eventTypeConnOpened,
		}

		go func() {
			for {
				mt, message, err := ws.ReadMessage()

				t.Logf("websocket rx: type=%d, len=%d (%s), err=%v", mt, len(message), frameString(message), err)

				rx <- websocketEvent{
					eventType: eventTypeMsg,

					messageType: mt,
					data:        message,
					err:         err,
				}

				if err != nil {
					t.Logf("breaking out of Rx loop")
					// Signal tx loop to exit as well
					cancel()
					break
				}
			}
		}()

	txLoop:
		for {
			select {
			case msg := <-tx:
				t.Logf("websocket tx: type=%d, len=%d (%s)", msg.messageType, len(msg.data), frameString(msg.data))

				if err := ws.WriteMessage(msg.messageType, msg.data); err != nil {
					t.Logf("error writing to websocket: %s", err)
					break
				}
			case <-ctx.Done():
				t.Logf("breaking out of Tx loop")
				break txLoop
			}
		}
	}
}

func waitConnOpen(t *testing.T, tp *testServerParams) error {
	select {
	case event := <-tp.rx:
		if want, got := eventTypeConnOpened, event.eventType; want != got {
			return errors.Errorf("event type: want: %v, got: %v (%+v)", want, got, event)
		}

	case <-time.After(1 * time.Second):
		return errors.Errorf("didn't receive anything")
	}

	return nil
}

func waitConnClose(t *testing.T, tp *testServerParams) error {
	select {
	case event := <-tp.rx:
		if want, got := eventTypeMsg, event.eventType; want != got {
			return errors.Errorf("event type: want: %v, got: %v (%+v)", want, got, event)
		}

		if event.err == nil {
			return errors.Errorf("event.err should not be nil")
		}

	case <-time.After(1 * time.Second):
		return errors.Errorf("didn't receive anything")
	}

	return nil
}

// waitRequest waits for the next request frame received by the server.
func waitRequest(t *testing.T, tp *testServerParams, protoID quote.ProtoID) (*quote.Frame, error) {
	select {
	case event := <-tp.rx:
		if want, got := eventTypeMsg, event.eventType; want != got {
			return nil, errors.Errorf("event type: want: %v, got: %v", want, got)
		}

		if event.err != nil {
			return nil, errors.Annotatef(event.err, "waiting for %s", protoID)
		}

		frame, err := quote.UnmarshalFrame(event.data)
		if err != nil {
			return nil, errors.Trace(err)
		}

		if frame.ProtoID != protoID {
			return nil, errors.Errorf("proto: want: %s, got: %s", protoID, frame.ProtoID)
		}

		return frame, nil

	case <-time.After(1 * time.Second):
		return nil, errors.Errorf("didn't receive %s", protoID)
	}
}

func sendFrame(tp *testServerParams, data []byte) {
	tp.tx <- serverTx{
		messageType: websocket.BinaryMessage,
		data:        data,
	}
}

func sendPush(tp *testServerParams, kind common.SubType, inst common.Instrument, data map[string]interface{}) error {
	body, err := structpb.NewStruct(map[string]interface{}{
		"subType":  kind.String(),
		"security": string(inst),
		"data":     data,
	})
	if err != nil {
		return errors.Trace(err)
	}

	frame, err := quote.MarshalFrame(&quote.Frame{
		ProtoID: quote.ProtoQotPush,
		Body:    body,
	})
	if err != nil {
		return errors.Trace(err)
	}

	sendFrame(tp, frame)

	return nil
}

// testGateway answers every request received by the test server with the
// handler; connection events are forwarded to the conns and closes channels.
type testGateway struct {
	tp *testServerParams

	conns    chan struct{}
	closes   chan struct{}
	requests chan *quote.Frame

	handler fakeHandler
	mtx     sync.Mutex
}

func newTestGateway(tp *testServerParams, handler fakeHandler) *testGateway {
	return &testGateway{
		tp:       tp,
		conns:    make(chan struct{}, 16),
		closes:   make(chan struct{}, 16),
		requests: make(chan *quote.Frame, 1024),
		handler:  handler,
	}
}

func (g *testGateway) setHandler(handler fakeHandler) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	g.handler = handler
}

func (g *testGateway) run(ctx context.Context) {
	for {
		select {
		case event := <-g.tp.rx:
			switch {
			case event.eventType == eventTypeConnOpened:
				g.conns <- struct{}{}

			case event.err != nil:
				g.closes <- struct{}{}

			default:
				req, err := quote.UnmarshalFrame(event.data)
				if err != nil {
					continue
				}
				g.requests <- req

				g.mtx.Lock()
				handler := g.handler
				g.mtx.Unlock()

				if data, err := handler(req); err == nil && data != nil {
					sendFrame(g.tp, data)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

func (g *testGateway) waitConn() error {
	select {
	case <-g.conns:
		return nil
	case <-time.After(2 * time.Second):
		return errors.Errorf("no connection opened")
	}
}

func (g *testGateway) waitClose() error {
	select {
	case <-g.closes:
		return nil
	case <-time.After(2 * time.Second):
		return errors.Errorf("connection wasn't closed")
	}
}

// acceptAll responds with success to every request with an empty body.
func acceptAll(req *quote.Frame) ([]byte, error) {
	return okResponse(req, nil), nil
}

// stateTracker {{{
type stateChange struct {
	oldState, state ConnState
	cause           error
}

type stateTracker struct {
	states    []string
	mtx       sync.Mutex
	changes   chan stateChange
	lastError error
}

func newStateTracker() *stateTracker {
	return &stateTracker{
		changes: make(chan stateChange, 1024),
	}
}

func (st *stateTracker) addStateListener(conn *wsConn, state ConnState, opt StateListenerOpt) {
	conn.onError(func(connErr error, disconnecting bool) {
		st.mtx.Lock()
		defer st.mtx.Unlock()

		st.lastError = connErr
	})

	conn.onStateChangeOpt(
		state,
		func(oldState, state ConnState) {
			st.mtx.Lock()
			defer st.mtx.Unlock()

			var cause error
			if state == ConnStateDisconnected || state == ConnStateWaitBeforeReconnect {
				cause = st.lastError
			}
			st.lastError = nil

			errStr := ""
			if cause != nil {
				errStr = fmt.Sprintf("(%s)", cause)
			}

			st.states = append(st.states, fmt.Sprintf("%s->%s%s", ConnStateNames[oldState], ConnStateNames[state], errStr))

			st.changes <- stateChange{
				oldState: oldState,
				state:    state,
				cause:    cause,
			}
		},
		opt,
	)
}

func (st *stateTracker) checkStates(want []string) error {
	st.mtx.Lock()
	defer st.mtx.Unlock()

	wantStr := strings.Join(want, ", ")
	gotStr := strings.Join(st.states, ", ")

	if gotStr != wantStr {
		return errors.Errorf("states error: want: %q, got: %q", wantStr, gotStr)
	}

	return nil
}

var dontCheckErr = errors.Errorf("_do_not_check_error_")

func (st *stateTracker) expectState(t *testing.T, state ConnState) error {
	return st.expectStateWCause(t, state, dontCheckErr)
}

func (st *stateTracker) expectStateWCause(t *testing.T, state ConnState, cause error) error {
	select {
	case change := <-st.changes:
		if change.state != state {
			return errors.Errorf("expect state change: want: %s, got: %s (%v)", ConnStateNames[state], ConnStateNames[change.state], change)
		}

		if cause != dontCheckErr && errors.Cause(change.cause) != cause {
			return errors.Errorf("expect state cause: want: %s, got: %s (%v)", cause, change.cause, change)
		}

	case <-time.After(2 * time.Second):
		return errors.Errorf("expect state change: want: %s, but nothing happened", ConnStateNames[state])
	}

	return nil
}

// statetracker }}}
