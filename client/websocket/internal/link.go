// Package internal implements the raw gateway link: a websocket connection
// which is redialed when it fails and which filters out heartbeats.
package internal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("quote.transport")

// LinkState is the state of a Link.
type LinkState int

const (
	// LinkIdle means the link is neither connected nor trying to connect.
	LinkIdle LinkState = iota

	// LinkWaiting means the last connection attempt failed, or the connection
	// dropped, and the link waits for the reconnection delay to expire.
	LinkWaiting

	// LinkDialing means the websocket handshake is in progress.
	LinkDialing

	// LinkOpen means the websocket connection is up.
	LinkOpen
)

// LinkStateNames contains human-readable names for LinkState.
var LinkStateNames = map[LinkState]string{
	LinkIdle:    "idle",
	LinkWaiting: "waiting",
	LinkDialing: "dialing",
	LinkOpen:    "open",
}

func (s LinkState) String() string {
	return LinkStateNames[s]
}

const (
	// heartbeat is the whole payload of a gateway keepalive message.
	heartbeat byte = 0x01

	heartbeatPeriod = 10 * time.Second

	// DefaultReadTimeout is how long the link waits for any data, heartbeats
	// included, before dropping the connection.
	DefaultReadTimeout = 3 * heartbeatPeriod

	// DefaultHandshakeTimeout bounds the websocket opening handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultMaxReconnectTimeout caps the reconnection delay.
	DefaultMaxReconnectTimeout = 30 * time.Second

	// minFixedDelay is the shortest delay between attempts without backoff.
	minFixedDelay = 1 * time.Second

	backoffStep = 500 * time.Millisecond
)

var (
	ErrNotConnected   = errors.New("link: not connected")
	ErrConnLoopActive = errors.New("link: already connecting or connected")
)

// LinkParams configures a Link.
type LinkParams struct {
	URL    string
	Header http.Header

	// Reconnect makes the link redial after a failure; otherwise the link goes
	// idle.
	Reconnect bool

	// Backoff makes the reconnection delay start at ReconnectTimeout and grow
	// by 500ms per failed attempt, up to MaxReconnectTimeout. Without it, the
	// delay is always ReconnectTimeout, at least 1s.
	Backoff             bool
	ReconnectTimeout    time.Duration
	MaxReconnectTimeout time.Duration

	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration

	// Clock drives the read timeout and reconnection delays; real clock if
	// nil.
	Clock clock.Clock

	// OnMessage is called from the read goroutine for every message except
	// heartbeats.
	OnMessage func(data []byte)

	// OnStateChange is called with the link locked, so it must not call the
	// Link back. cause is the error which ended the previous connection, if
	// any.
	OnStateChange func(prev, cur LinkState, cause error)
}

// Link is a websocket connection to the gateway which reconnects as
// configured. It knows nothing about what the messages contain.
type Link struct {
	params LinkParams
	dialer *websocket.Dialer

	mtx   sync.Mutex
	state LinkState
	delay backoff

	// conn is set only in LinkOpen.
	conn *websocket.Conn

	// stop cancels the running connection loop; nil in LinkIdle.
	stop context.CancelFunc

	// skipWait, closed by Connect, cuts the reconnection delay short. Set
	// only in LinkWaiting.
	skipWait chan struct{}

	// writeMtx serializes writers, as gorilla/websocket requires.
	writeMtx sync.Mutex
}

// NewLink creates an idle link; call Connect to start it.
func NewLink(params *LinkParams) (*Link, error) {
	p := *params

	if p.URL == "" {
		return nil, errors.NotValidf("empty URL")
	}

	if p.Clock == nil {
		p.Clock = clock.New()
	}

	if p.ReadTimeout <= 0 {
		p.ReadTimeout = DefaultReadTimeout
	}

	if p.HandshakeTimeout <= 0 {
		p.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if p.MaxReconnectTimeout <= 0 {
		p.MaxReconnectTimeout = DefaultMaxReconnectTimeout
	}

	if !p.Backoff && p.ReconnectTimeout < minFixedDelay {
		p.ReconnectTimeout = minFixedDelay
	}

	l := &Link{
		params: p,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: p.HandshakeTimeout,
		},
		delay: backoff{
			initial: p.ReconnectTimeout,
			max:     max(p.MaxReconnectTimeout, p.ReconnectTimeout),
			grow:    p.Backoff,
		},
	}
	l.delay.reset()

	return l, nil
}

// URL returns the gateway URL.
func (l *Link) URL() string {
	return l.params.URL
}

// State returns the current state.
func (l *Link) State() LinkState {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return l.state
}

// Connect starts the connection loop if the link is idle, or dials right
// away if it's waiting to reconnect. It returns ErrConnLoopActive if the link
// is dialing or open, and never waits for the connection.
func (l *Link) Connect() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	switch l.state {
	case LinkIdle:
		// Leave LinkIdle before the goroutine starts, so that a concurrent
		// Connect can't start a second loop.
		ctx, cancel := context.WithCancel(context.Background())
		l.stop = cancel
		l.setState(LinkDialing, nil)

		go l.run(ctx)

	case LinkWaiting:
		if l.skipWait != nil {
			close(l.skipWait)
			l.skipWait = nil
		}

	default:
		return errors.Trace(ErrConnLoopActive)
	}

	return nil
}

// Close stops the connection loop and closes the connection, if any, with a
// normal closure.
func (l *Link) Close() error {
	return errors.Trace(l.shutdown(websocket.CloseNormalClosure, "", true))
}

// Drop closes the current connection with the given close code and text. The
// link then reconnects if configured to.
func (l *Link) Drop(code int, text string) error {
	return errors.Trace(l.shutdown(code, text, false))
}

func (l *Link) shutdown(code int, text string, stop bool) error {
	l.mtx.Lock()
	if l.state == LinkIdle {
		l.mtx.Unlock()
		return errors.Trace(ErrNotConnected)
	}

	if stop {
		l.stop()
	}
	conn := l.conn
	l.mtx.Unlock()

	if conn == nil {
		return nil
	}

	// The read loop sees the close reply, or the error if the conn is closed
	// forcefully, and the connection loop moves on.
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Time{}); err != nil {
		return errors.Trace(conn.Close())
	}

	return nil
}

// Send writes a binary message. It fails with ErrNotConnected unless the link
// is open. The context deadline, if any, becomes the write deadline.
func (l *Link) Send(ctx context.Context, data []byte) error {
	l.mtx.Lock()
	conn := l.conn
	l.mtx.Unlock()

	if conn == nil {
		return errors.Trace(ErrNotConnected)
	}

	l.writeMtx.Lock()
	defer l.writeMtx.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return errors.Trace(err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Annotatef(err, "sending msg")
	}

	return nil
}

// setState must be called with l.mtx locked.
func (l *Link) setState(state LinkState, cause error) {
	prev := l.state
	if prev == state {
		return
	}

	switch prev {
	case LinkOpen:
		l.conn = nil
	case LinkWaiting:
		l.skipWait = nil
	}

	switch state {
	case LinkWaiting:
		l.skipWait = make(chan struct{})
	case LinkIdle:
		if l.stop != nil {
			l.stop()
			l.stop = nil
		}
	}

	l.state = state

	if l.params.OnStateChange != nil {
		l.params.OnStateChange(prev, state, cause)
	}
}

// run is the connection loop: dial, read until the connection fails, wait,
// repeat. It returns when ctx is canceled or reconnection is disabled.
func (l *Link) run(ctx context.Context) {
	var cause error

	defer func() {
		l.mtx.Lock()
		l.setState(LinkIdle, cause)
		l.mtx.Unlock()
	}()

	for {
		// The first iteration is already in LinkDialing (see Connect).
		l.mtx.Lock()
		l.setState(LinkDialing, nil)
		l.mtx.Unlock()

		cause = l.serve(ctx)

		if !l.params.Reconnect || ctx.Err() != nil {
			return
		}

		if !l.pause(ctx, cause) {
			return
		}
	}
}

// serve dials the gateway and reads from it until the connection fails;
// returns the failure.
func (l *Link) serve(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.params.URL, l.params.Header)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Debugf("connected to %s", l.params.URL)

	l.mtx.Lock()
	l.conn = conn
	l.delay.reset()
	l.setState(LinkOpen, nil)
	l.mtx.Unlock()

	defer func() {
		l.mtx.Lock()
		l.conn = nil
		l.mtx.Unlock()
	}()

	// Without data for ReadTimeout the network is likely gone: close the conn
	// without the close handshake, which would only time out as well.
	wd := watchdog{
		clock:   l.params.Clock,
		timeout: l.params.ReadTimeout,
		expire: func() {
			logger.Warningf("no data from %s for %s, dropping connection", l.params.URL, l.params.ReadTimeout)
			conn.Close()
		},
	}
	wd.kick()
	defer wd.stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		wd.kick()

		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		if len(data) == 1 && data[0] == heartbeat {
			continue
		}

		if l.params.OnMessage != nil {
			l.params.OnMessage(data)
		}
	}
}

// pause waits for the reconnection delay, or until Connect cuts it short.
// Returns false if the link was closed meanwhile.
func (l *Link) pause(ctx context.Context, cause error) bool {
	l.mtx.Lock()
	l.setState(LinkWaiting, cause)
	skip := l.skipWait
	delay := l.delay.next()
	l.mtx.Unlock()

	logger.Debugf("reconnecting to %s in %s (%v)", l.params.URL, delay, cause)

	expired := make(chan struct{})
	timer := l.params.Clock.AfterFunc(delay, func() {
		close(expired)
	})
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-expired:
	case <-skip:
	}

	return true
}

// backoff yields reconnection delays.
type backoff struct {
	initial time.Duration
	max     time.Duration
	grow    bool

	cur time.Duration
}

func (b *backoff) next() time.Duration {
	d := b.cur
	if b.grow {
		b.cur = min(b.cur+backoffStep, b.max)
	}

	return d
}

func (b *backoff) reset() {
	b.cur = b.initial
}

// watchdog calls expire unless kicked at least once per timeout.
type watchdog struct {
	clock   clock.Clock
	timeout time.Duration
	expire  func()

	timer *clock.Timer
}

func (w *watchdog) kick() {
	w.stop()
	w.timer = w.clock.AfterFunc(w.timeout, w.expire)
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
