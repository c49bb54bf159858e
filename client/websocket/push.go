package websocket

import (
	"github.com/juju/errors"
	"github.com/y3sh/quote-sdk-go/common"
	"github.com/y3sh/quote-sdk-go/proto/quote"
	"google.golang.org/protobuf/types/known/structpb"
)

// Push is real-time data pushed by the gateway for a subscribed pair.
type Push struct {
	Kind       common.SubType
	Instrument common.Instrument

	// Data is the raw payload; use the typed accessors below where possible.
	Data *structpb.Struct
}

// KLine decodes the payload of a k-line push.
func (p *Push) KLine() (common.KLine, error) {
	if !p.Kind.IsKLine() {
		return common.KLine{}, errors.Errorf("%s push is not a kline", p.Kind)
	}

	kl, err := klineFromStruct(p.Data)
	if err != nil {
		return common.KLine{}, errors.Trace(err)
	}
	kl.Instrument = p.Instrument
	kl.KLType = p.Kind.KLType()

	return kl, nil
}

// OrderBook decodes the payload of an order book push.
func (p *Push) OrderBook() (common.OrderBook, error) {
	if p.Kind != common.SubTypeOrderBook {
		return common.OrderBook{}, errors.Errorf("%s push is not an order book", p.Kind)
	}

	ob, err := orderBookFromStruct(p.Data)
	if err != nil {
		return common.OrderBook{}, errors.Trace(err)
	}

	return ob, nil
}

// Snapshot decodes the payload of a quote push.
func (p *Push) Snapshot() (common.MarketSnapshot, error) {
	if p.Kind != common.SubTypeQuote {
		return common.MarketSnapshot{}, errors.Errorf("%s push is not a quote", p.Kind)
	}

	snap, err := snapshotFromStruct(p.Data)
	if err != nil {
		return common.MarketSnapshot{}, errors.Trace(err)
	}

	return snap, nil
}

func pushFromFrame(frame *quote.Frame) (*Push, error) {
	if frame.ProtoID != quote.ProtoQotPush {
		return nil, errors.NotSupportedf("push %s", frame.ProtoID)
	}

	kindName, err := quote.String(frame.Body, "subType")
	if err != nil {
		return nil, errors.Trace(err)
	}

	kind, err := common.ParseSubType(kindName)
	if err != nil {
		return nil, errors.Trace(err)
	}

	code, err := quote.String(frame.Body, "security")
	if err != nil {
		return nil, errors.Trace(err)
	}

	data, err := quote.OptStruct(frame.Body, "data")
	if err != nil {
		return nil, errors.Trace(err)
	}
	if data == nil {
		data = &structpb.Struct{}
	}

	return &Push{
		Kind:       kind,
		Instrument: common.Instrument(code),
		Data:       data,
	}, nil
}
