package websocket

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/y3sh/quote-sdk-go/proto/quote"
	"google.golang.org/protobuf/types/known/structpb"
)

// fakeHandler produces the raw response to a request, or an error which
// AwaitResponse will return.
type fakeHandler func(req *quote.Frame) ([]byte, error)

// fakeTransport is an in-memory Transport which answers every request with
// the handler synchronously.
type fakeTransport struct {
	handler fakeHandler
	sendErr error

	mtx       sync.Mutex
	requests  []*quote.Frame
	responses map[string]fakeResponse
}

type fakeResponse struct {
	data []byte
	err  error
}

func newFakeTransport(handler fakeHandler) *fakeTransport {
	return &fakeTransport{
		handler:   handler,
		responses: make(map[string]fakeResponse),
	}
}

func (ft *fakeTransport) Send(ctx context.Context, id string, data []byte) error {
	if ft.sendErr != nil {
		return ft.sendErr
	}

	req, err := quote.UnmarshalFrame(data)
	if err != nil {
		return errors.Trace(err)
	}

	data, herr := ft.handler(req)

	ft.mtx.Lock()
	defer ft.mtx.Unlock()

	ft.requests = append(ft.requests, req)
	ft.responses[id] = fakeResponse{data: data, err: herr}

	return nil
}

func (ft *fakeTransport) AwaitResponse(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	ft.mtx.Lock()
	defer ft.mtx.Unlock()

	resp, ok := ft.responses[id]
	if !ok {
		return nil, errors.Trace(ErrUnknownRequest)
	}
	delete(ft.responses, id)

	return resp.data, resp.err
}

func (ft *fakeTransport) getRequests() []*quote.Frame {
	ft.mtx.Lock()
	defer ft.mtx.Unlock()

	ret := make([]*quote.Frame, len(ft.requests))
	copy(ret, ft.requests)
	return ret
}

// newTestExecutor returns an executor with predictable request ids.
func newTestExecutor(t Transport) *Executor {
	e := NewExecutor(t, time.Second)

	var mtx sync.Mutex
	n := 0
	e.newID = func() string {
		mtx.Lock()
		defer mtx.Unlock()
		n++
		return "req-" + strconv.Itoa(n)
	}

	return e
}

// makeResponse builds an encoded response to req.
func makeResponse(req *quote.Frame, retType quote.RetType, retMsg string, body map[string]interface{}) []byte {
	var bodyStruct *structpb.Struct
	if body != nil {
		var err error
		bodyStruct, err = structpb.NewStruct(body)
		if err != nil {
			panic(err)
		}
	}

	data, err := quote.MarshalFrame(&quote.Frame{
		ID:      req.ID,
		ProtoID: req.ProtoID,
		RetType: retType,
		RetMsg:  retMsg,
		Body:    bodyStruct,
	})
	if err != nil {
		panic(err)
	}

	return data
}

func okResponse(req *quote.Frame, body map[string]interface{}) []byte {
	return makeResponse(req, quote.RetSucceed, "", body)
}

// klineHistory serves a fixed number of daily candlesticks page by page; the
// cursor is the index of the next candlestick.
type klineHistory struct {
	total int

	mtx       sync.Mutex
	pageSizes []int
	// failPage, if positive, makes the given page (1-based) fail.
	failPage int
	pages    int
}

func (h *klineHistory) handle(req *quote.Frame) ([]byte, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	h.pages++

	size, err := quote.Int64(req.Body, "maxAckKLNum")
	if err != nil {
		return nil, errors.Trace(err)
	}
	h.pageSizes = append(h.pageSizes, int(size))

	if h.failPage == h.pages {
		return makeResponse(req, quote.RetFailed, "too frequent", nil), nil
	}

	cursor, err := quote.OptString(req.Body, "nextReqKey")
	if err != nil {
		return nil, errors.Trace(err)
	}

	start := 0
	if cursor != "" {
		if start, err = strconv.Atoi(cursor); err != nil {
			return nil, errors.Trace(err)
		}
	}

	end := min(start+int(size), h.total)
	list := make([]interface{}, 0, end-start)
	for i := start; i < end; i++ {
		list = append(list, klineItem(i))
	}

	next := ""
	if end < h.total {
		next = strconv.Itoa(end)
	}

	return okResponse(req, map[string]interface{}{
		"security":   "HK.00700",
		"klType":     "K_DAY",
		"klList":     list,
		"nextReqKey": next,
	}), nil
}

func (h *klineHistory) getPageSizes() []int {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	ret := make([]int, len(h.pageSizes))
	copy(ret, h.pageSizes)
	return ret
}

var klineEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func klineItem(i int) map[string]interface{} {
	return map[string]interface{}{
		"time":     klineEpoch.AddDate(0, 0, i).Format("2006-01-02 15:04:05"),
		"open":     fmt.Sprintf("%d.10", 100+i),
		"high":     fmt.Sprintf("%d.50", 100+i),
		"low":      fmt.Sprintf("%d.00", 100+i),
		"close":    fmt.Sprintf("%d.20", 100+i),
		"volume":   1000 + i,
		"turnover": "123456.78",
	}
}
