package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/juju/errors"
	"github.com/y3sh/quote-sdk-go/common"
	"github.com/y3sh/quote-sdk-go/proto/quote"
)

const (
	// DefaultGatewayURL is the address of a gateway running locally with
	// default settings.
	DefaultGatewayURL = "ws://127.0.0.1:33333"

	// DefaultPageSize is the number of records requested per page when
	// RetrieveOpts.PageSize is zero.
	DefaultPageSize = 1000

	// DefaultHistoryPageCap is the largest page the gateway serves.
	DefaultHistoryPageCap = 1000

	// defaultHistorySpan is how far back a history request reaches if no
	// start date is given.
	defaultHistorySpan = 365 * 24 * time.Hour
)

// QuotaOpts contains limits of the gateway; zero values are replaced with
// defaults.
type QuotaOpts struct {
	// SharedSubscriptionQuota is shared by the k-line kinds of one
	// resubscription batch: each batch carries at most
	// max(1, quota / number of k-line kinds) instruments.
	SharedSubscriptionQuota int

	// ResubscribeBatchSize is the number of instruments per resubscription
	// batch for non-k-line kinds.
	ResubscribeBatchSize int

	// DefaultPageSize is used by RequestHistoryKLine when no page size is
	// given; it must not exceed HistoryPageCap.
	DefaultPageSize int

	// HistoryPageCap is the largest page the gateway serves; bigger page
	// sizes are clamped to it.
	HistoryPageCap int
}

// QuoteClientParams contains params for NewQuoteClient.
type QuoteClientParams struct {
	WSParams *WSParams

	// RequestTimeout bounds every request/response exchange;
	// DefaultRequestTimeout if zero.
	RequestTimeout time.Duration

	Quota QuotaOpts

	// Below are mockables; should only be set for tests. By default, prod
	// values will be used.

	clock clock.Clock
}

// PushCB defines a callback function for OnPush.
type PushCB func(push *Push)

type callPushListenersReq struct {
	listeners []PushCB
	push      *Push
}

// SessionStateCB defines a callback function for OnSessionStateChange.
type SessionStateCB func(prevState, curState SessionState)

type callSessionStateListenersReq struct {
	listeners       []SessionStateCB
	oldState, state SessionState
}

// ResubscribeResultCB defines a callback function for OnResubscribeResult.
type ResubscribeResultCB func(res ResubscribeResult)

type callResubscribeResultListenersReq struct {
	listeners []ResubscribeResultCB
	result    ResubscribeResult
}

// SubscribeOpt contains options for Subscribe.
type SubscribeOpt struct {
	// FirstPush asks the gateway to push the current data right after
	// subscribing.
	FirstPush bool
}

// QuoteClient is a client of the quote gateway. It keeps a registry of
// acknowledged subscriptions and replays it every time the connection is
// re-established, so subscriptions survive reconnects.
//
// Typically you will get an instance using NewQuoteClient(), set the
// listeners you need, and call Connect().
type QuoteClient struct {
	params QuoteClientParams

	// We want to ensure that wsConn's methods aren't available on the
	// QuoteClient to avoid confusion, so we give it explicit name.
	wsConn       *wsConn
	executor     *Executor
	registry     *subscriptionRegistry
	resubscriber *resubscriber

	sessionState SessionState
	// generation is bumped on every connection state change, so that a
	// resubscription cycle which got superseded doesn't touch the state.
	generation uint64
	sessionMtx sync.Mutex

	pushListeners              []PushCB
	sessionStateListeners      []SessionStateCB
	resubscribeResultListeners []ResubscribeResultCB

	callPushListeners              chan callPushListenersReq
	callSessionStateListeners      chan callSessionStateListenersReq
	callResubscribeResultListeners chan callResubscribeResultListenersReq

	mtx sync.Mutex
}

// NewQuoteClient creates a new QuoteClient instance with the given params.
// Although it starts listening for data immediately, you will still have to
// register listeners to handle that data, and then call Connect() explicitly.
func NewQuoteClient(params *QuoteClientParams) (*QuoteClient, error) {
	// Make a copy of params struct because we might alter it below
	paramsCopy := *params
	params = &paramsCopy

	wsParams := WSParams{}
	if params.WSParams != nil {
		wsParams = *params.WSParams
	}
	if wsParams.URL == "" {
		wsParams.URL = DefaultGatewayURL
	}
	params.WSParams = &wsParams

	if params.clock == nil {
		params.clock = clock.New()
	}

	if err := applyQuotaDefaults(&params.Quota); err != nil {
		return nil, errors.Trace(err)
	}

	wsConn, err := newWsConn(params.WSParams, &wsConnParamsInternal{
		clock: params.clock,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	executor := NewExecutor(wsConn, params.RequestTimeout)

	qc := &QuoteClient{
		params:   *params,
		wsConn:   wsConn,
		executor: executor,
		registry: newSubscriptionRegistry(),

		callPushListeners:              make(chan callPushListenersReq, 1),
		callSessionStateListeners:      make(chan callSessionStateListenersReq, 8),
		callResubscribeResultListeners: make(chan callResubscribeResultListenersReq, 1),
	}

	qc.resubscriber = &resubscriber{
		quota:     params.Quota.SharedSubscriptionQuota,
		batchSize: params.Quota.ResubscribeBatchSize,
		subscribe: func(ctx context.Context, kinds []common.SubType, instruments []common.Instrument) error {
			_, err := Execute(ctx, qc.executor, subscribeDescriptor{}, subscribeParams{
				Instruments: instruments,
				Kinds:       kinds,
				Subscribe:   true,
			})
			return errors.Trace(err)
		},
		live: qc.registry.has,
	}

	qc.wsConn.onPush(func(frame *quote.Frame) {
		push, err := pushFromFrame(frame)
		if err != nil {
			logger.Warningf("bad push: %v", err)
			qc.wsConn.callOnErrorCBs(errors.Annotatef(err, "push"), false)
			return
		}

		qc.pushHandler(push)
	})

	qc.wsConn.onStateChange(ConnStateAny, qc.connStateHandler)

	go qc.listen()

	return qc, nil
}

func applyQuotaDefaults(q *QuotaOpts) error {
	if q.SharedSubscriptionQuota == 0 {
		q.SharedSubscriptionQuota = DefaultSubscriptionQuota
	}
	if q.ResubscribeBatchSize == 0 {
		q.ResubscribeBatchSize = DefaultResubscribeBatchSize
	}
	if q.HistoryPageCap == 0 {
		q.HistoryPageCap = DefaultHistoryPageCap
	}
	if q.DefaultPageSize == 0 {
		q.DefaultPageSize = min(DefaultPageSize, q.HistoryPageCap)
	}

	switch {
	case q.SharedSubscriptionQuota < 0:
		return newConfigurationError("subscription quota must be positive, got %d", q.SharedSubscriptionQuota)
	case q.ResubscribeBatchSize < 0:
		return newConfigurationError("resubscribe batch size must be positive, got %d", q.ResubscribeBatchSize)
	case q.HistoryPageCap < 0:
		return newConfigurationError("history page cap must be positive, got %d", q.HistoryPageCap)
	case q.DefaultPageSize < 0 || q.DefaultPageSize > q.HistoryPageCap:
		return newConfigurationError("default page size must be in [1, %d], got %d", q.HistoryPageCap, q.DefaultPageSize)
	}

	return nil
}

// listen is used internally to dispatch data to registered listeners.
func (qc *QuoteClient) listen() {
	for {
		select {
		case req := <-qc.callPushListeners:
			for _, l := range req.listeners {
				l(req.push)
			}

		case req := <-qc.callSessionStateListeners:
			for _, l := range req.listeners {
				l(req.oldState, req.state)
			}

		case req := <-qc.callResubscribeResultListeners:
			for _, l := range req.listeners {
				l(req.result)
			}
		}
	}
}

// connStateHandler drives the session state from the connection state. It's
// called from the wsConn event loop, so it must not block: resubscription
// runs in its own goroutine, because its responses are routed by that very
// loop.
func (qc *QuoteClient) connStateHandler(_, curState ConnState) {
	qc.sessionMtx.Lock()
	qc.generation++
	gen := qc.generation
	req := qc.setSessionStateLocked(sessionStateFromConn(curState))
	qc.sessionMtx.Unlock()

	qc.dispatchSessionState(req)

	if curState == ConnStateEstablished {
		go qc.resubscribe(gen)
	}
}

// resubscribe replays the registry after the connection of generation gen
// has been established.
func (qc *QuoteClient) resubscribe(gen uint64) {
	res := qc.resubscriber.run(context.Background(), qc.registry.snapshot())

	qc.sessionMtx.Lock()
	if qc.generation != gen {
		// The connection has changed meanwhile; a newer cycle takes over.
		qc.sessionMtx.Unlock()
		logger.Debugf("dropping outdated resubscription result: %v", res.Err)
		return
	}

	var req *callSessionStateListenersReq
	if res.Err == nil {
		req = qc.setSessionStateLocked(SessionStateStable)
	} else {
		req = qc.setSessionStateLocked(SessionStateReconnecting)
	}
	qc.sessionMtx.Unlock()

	qc.dispatchSessionState(req)
	qc.resubscribeResultHandler(res)

	if res.Err != nil {
		logger.Errorf("resubscription failed after %d/%d batches: %v", res.Sent, res.Batches, res.Err)

		// Drop the connection; the transport will reconnect and the whole
		// cycle starts over.
		qc.wsConn.reconnect(res.Err)
		return
	}

	logger.Infof("resubscribed %d pairs in %d batches", res.Pairs, res.Batches)
}

// NOTE: sessionMtx must be locked.
func (qc *QuoteClient) setSessionStateLocked(state SessionState) *callSessionStateListenersReq {
	if qc.sessionState == state {
		return nil
	}

	oldState := qc.sessionState
	qc.sessionState = state

	logger.Debugf("session: %s -> %s", oldState, state)

	qc.mtx.Lock()
	listeners := make([]SessionStateCB, len(qc.sessionStateListeners))
	copy(listeners, qc.sessionStateListeners)
	qc.mtx.Unlock()

	return &callSessionStateListenersReq{
		listeners: listeners,
		oldState:  oldState,
		state:     state,
	}
}

func (qc *QuoteClient) dispatchSessionState(req *callSessionStateListenersReq) {
	if req == nil {
		return
	}

	qc.callSessionStateListeners <- *req
}

// Dispatches incoming push to registered listeners
func (qc *QuoteClient) pushHandler(push *Push) {
	qc.mtx.Lock()
	listeners := make([]PushCB, len(qc.pushListeners))
	copy(listeners, qc.pushListeners)
	qc.mtx.Unlock()

	qc.callPushListeners <- callPushListenersReq{
		listeners: listeners,
		push:      push,
	}
}

func (qc *QuoteClient) resubscribeResultHandler(res ResubscribeResult) {
	qc.mtx.Lock()
	listeners := make([]ResubscribeResultCB, len(qc.resubscribeResultListeners))
	copy(listeners, qc.resubscribeResultListeners)
	qc.mtx.Unlock()

	qc.callResubscribeResultListeners <- callResubscribeResultListenersReq{
		listeners: listeners,
		result:    res,
	}
}

// OnPush sets a callback for real-time data pushed for subscribed pairs.
func (qc *QuoteClient) OnPush(cb PushCB) {
	qc.mtx.Lock()
	defer qc.mtx.Unlock()

	qc.pushListeners = append(qc.pushListeners, cb)
}

// OnSessionStateChange registers a callback for session state changes.
// Session state listeners are called from the same goroutine as push
// listeners.
func (qc *QuoteClient) OnSessionStateChange(cb SessionStateCB) {
	qc.mtx.Lock()
	defer qc.mtx.Unlock()

	qc.sessionStateListeners = append(qc.sessionStateListeners, cb)
}

// OnResubscribeResult registers a callback which is called after every
// resubscription cycle that wasn't superseded by a newer connection.
func (qc *QuoteClient) OnResubscribeResult(cb ResubscribeResultCB) {
	qc.mtx.Lock()
	defer qc.mtx.Unlock()

	qc.resubscribeResultListeners = append(qc.resubscribeResultListeners, cb)
}

// OnError registers a callback which will be called on all errors. When it's
// an error about disconnection, the OnError callbacks are called before the
// state listeners.
func (qc *QuoteClient) OnError(cb OnErrorCB) {
	qc.wsConn.onError(cb)
}

// OnStateChange registers a new listener for the given connection state.
// All state listeners are called by the same internal goroutine, i.e. they
// are never called concurrently with each other.
//
// The listeners shouldn't block; a blocked listener will also block the whole
// connection, and so will any request made synchronously from a listener.
//
// To subscribe to all state changes, use ConnStateAny as a state.
func (qc *QuoteClient) OnStateChange(state ConnState, cb StateCallback) {
	qc.wsConn.onStateChange(state, cb)
}

// OnStateChangeOpt is like OnStateChange, but also takes additional
// options; see StateListenerOpt for details.
func (qc *QuoteClient) OnStateChangeOpt(state ConnState, cb StateCallback, opt StateListenerOpt) {
	qc.wsConn.onStateChangeOpt(state, cb, opt)
}

// OnConnClosed allows the client to set a callback for when the connection is lost.
// The new state of the client could be ConnStateDisconnected or ConnStateWaitBeforeReconnect.
func (qc *QuoteClient) OnConnClosed(cb ConnClosedCallback) {
	qc.wsConn.onConnClosed(cb)
}

// Subscribe subscribes to every kind for every instrument. Duplicates are
// ignored. The pairs are recorded in the registry only once the gateway has
// acknowledged them; on failure nothing is recorded.
func (qc *QuoteClient) Subscribe(
	ctx context.Context, instruments []common.Instrument, kinds []common.SubType, opt SubscribeOpt,
) error {
	insts, kinds, err := validateSubscription(instruments, kinds)
	if err != nil {
		return errors.Trace(err)
	}

	if _, err := Execute(ctx, qc.executor, subscribeDescriptor{}, subscribeParams{
		Instruments: insts,
		Kinds:       kinds,
		Subscribe:   true,
		FirstPush:   opt.FirstPush,
	}); err != nil {
		return errors.Annotatef(err, "subscribe")
	}

	qc.registry.add(kinds, insts)

	return nil
}

// Unsubscribe unsubscribes every kind for every instrument. The pairs are
// removed from the registry once the gateway has acknowledged the request;
// pairs which weren't subscribed are ignored.
//
// A resubscription in progress checks the registry before each batch and
// skips pairs removed since. An Unsubscribe still awaiting its
// acknowledgement when a batch is sent can be undone by that batch, in which
// case the pair stays subscribed on the gateway but not in the registry.
func (qc *QuoteClient) Unsubscribe(ctx context.Context, instruments []common.Instrument, kinds []common.SubType) error {
	insts, kinds, err := validateSubscription(instruments, kinds)
	if err != nil {
		return errors.Trace(err)
	}

	if _, err := Execute(ctx, qc.executor, subscribeDescriptor{}, subscribeParams{
		Instruments: insts,
		Kinds:       kinds,
		Subscribe:   false,
	}); err != nil {
		return errors.Annotatef(err, "unsubscribe")
	}

	qc.registry.remove(kinds, insts)

	return nil
}

// UnsubscribeAll unsubscribes everything in the registry, one kind at a
// time, and stops at the first failure.
func (qc *QuoteClient) UnsubscribeAll(ctx context.Context) error {
	snap := qc.registry.snapshot()

	for _, kind := range snap.Kinds() {
		if err := qc.Unsubscribe(ctx, snap[kind], []common.SubType{kind}); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

// Subscriptions returns a copy of the registry: every pair acknowledged by
// the gateway and not unsubscribed since.
func (qc *QuoteClient) Subscriptions() SubscriptionSnapshot {
	return qc.registry.snapshot()
}

// QuerySubscription asks the gateway which subscriptions it holds and how
// much quota they use. If allConns is true, subscriptions of all connections
// of the account are included.
func (qc *QuoteClient) QuerySubscription(ctx context.Context, allConns bool) (*common.SubscriptionInfo, error) {
	info, err := Execute(ctx, qc.executor, subInfoDescriptor{}, subInfoParams{AllConns: allConns})
	if err != nil {
		return nil, errors.Annotatef(err, "query subscription")
	}

	return info, nil
}

// RequestHistoryKLine retrieves historical candlesticks page by page. An empty
// End means today, an empty Start means a year before End. A zero
// opts.PageSize means QuotaOpts.DefaultPageSize.
//
// If the retrieval stops at opts.TotalCap while more data is available, the
// result's Next cursor resumes it. If a page fails, no records are returned,
// and ResumeCursor(err) tells where to restart from.
func (qc *QuoteClient) RequestHistoryKLine(
	ctx context.Context, params HistoryKLineParams, opts RetrieveOpts,
) (*RetrieveResult[common.KLine], error) {
	if params.End == "" {
		params.End = qc.params.clock.Now().Format(DateLayout)
	}

	if params.Start == "" {
		end, err := time.Parse(DateLayout, params.End)
		if err != nil {
			return nil, errors.Trace(newConfigurationError("end date %q: %s", params.End, err))
		}
		params.Start = end.Add(-defaultHistorySpan).Format(DateLayout)
	}

	if opts.PageSize == 0 {
		opts.PageSize = qc.params.Quota.DefaultPageSize
	}
	opts.MaxPageSize = qc.params.Quota.HistoryPageCap

	res, err := Retrieve(ctx, qc.executor, historyKLineDescriptor{}, params, opts)
	if err != nil {
		return nil, errors.Annotatef(err, "history klines %s", params.Instrument)
	}

	return res, nil
}

// GetMarketSnapshot returns snapshots of up to MaxSnapshotInstruments
// instruments.
func (qc *QuoteClient) GetMarketSnapshot(ctx context.Context, instruments []common.Instrument) ([]common.MarketSnapshot, error) {
	snaps, err := Execute(ctx, qc.executor, snapshotDescriptor{}, instruments)
	if err != nil {
		return nil, errors.Annotatef(err, "market snapshot")
	}

	return snaps, nil
}

// GetOrderBook returns the order book of the instrument, depth levels per
// side.
func (qc *QuoteClient) GetOrderBook(ctx context.Context, instrument common.Instrument, depth int) (*common.OrderBook, error) {
	ob, err := Execute(ctx, qc.executor, orderBookDescriptor{}, orderBookParams{
		Instrument: instrument,
		Depth:      depth,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "order book %s", instrument)
	}

	return ob, nil
}

// SessionState returns the current session state.
func (qc *QuoteClient) SessionState() SessionState {
	qc.sessionMtx.Lock()
	defer qc.sessionMtx.Unlock()

	return qc.sessionState
}

// ConnState returns the current connection state.
func (qc *QuoteClient) ConnState() ConnState {
	return qc.wsConn.connState()
}

// URL returns the url of the gateway.
func (qc *QuoteClient) URL() string {
	return qc.wsConn.url()
}

// Connect either starts a connection goroutine (if state is
// ConnStateDisconnected), or makes it connect immediately, ignoring timeout
// (if the state is ConnStateWaitBeforeReconnect). For other states, this returns an
// error.
//
// Connect doesn't wait for the connection to establish; it returns immediately.
func (qc *QuoteClient) Connect() error {
	return qc.wsConn.connect()
}

// Close stops the connection (or reconnection loop, if active), and if
// websocket connection is active at the moment, closes it as well. The
// registry is cleared: a closed client starts from scratch on the next
// Connect.
func (qc *QuoteClient) Close() error {
	qc.registry.reset()

	return qc.wsConn.close()
}
