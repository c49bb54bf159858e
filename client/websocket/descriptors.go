package websocket

import (
	"time"

	"github.com/juju/errors"
	"github.com/y3sh/quote-sdk-go/common"
	"github.com/y3sh/quote-sdk-go/proto/quote"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// DateLayout is the layout of dates in history requests.
	DateLayout = "2006-01-02"

	// MaxSnapshotInstruments is the largest number of instruments accepted by
	// a single snapshot request.
	MaxSnapshotInstruments = 400

	// MaxOrderBookDepth is the deepest order book the gateway returns.
	MaxOrderBookDepth = 10
)

// validateSubscription checks a subscribe/unsubscribe request and returns
// instruments and kinds with duplicates removed, in their original order.
func validateSubscription(instruments []common.Instrument, kinds []common.SubType) ([]common.Instrument, []common.SubType, error) {
	if len(instruments) == 0 {
		return nil, nil, errors.Trace(newConfigurationError("instrument list is empty"))
	}

	if len(kinds) == 0 {
		return nil, nil, errors.Trace(newConfigurationError("subscription type list is empty"))
	}

	uniqInsts := make([]common.Instrument, 0, len(instruments))
	seenInsts := make(map[common.Instrument]struct{}, len(instruments))
	for _, inst := range instruments {
		if err := inst.Validate(); err != nil {
			return nil, nil, errors.Trace(newConfigurationError("%s", err))
		}

		if _, ok := seenInsts[inst]; ok {
			continue
		}
		seenInsts[inst] = struct{}{}
		uniqInsts = append(uniqInsts, inst)
	}

	uniqKinds := make([]common.SubType, 0, len(kinds))
	seenKinds := make(map[common.SubType]struct{}, len(kinds))
	for _, kind := range kinds {
		if !kind.Valid() {
			return nil, nil, errors.Trace(newConfigurationError("unknown subscription type %d", int32(kind)))
		}

		if _, ok := seenKinds[kind]; ok {
			continue
		}
		seenKinds[kind] = struct{}{}
		uniqKinds = append(uniqKinds, kind)
	}

	return uniqInsts, uniqKinds, nil
}

func instrumentsToList(instruments []common.Instrument) []interface{} {
	ret := make([]interface{}, 0, len(instruments))
	for _, inst := range instruments {
		ret = append(ret, string(inst))
	}

	return ret
}

func kindsToList(kinds []common.SubType) []interface{} {
	ret := make([]interface{}, 0, len(kinds))
	for _, kind := range kinds {
		ret = append(ret, kind.String())
	}

	return ret
}

// subscribe / unsubscribe {{{

type subscribeParams struct {
	Instruments []common.Instrument
	Kinds       []common.SubType

	// Subscribe is false for unsubscription.
	Subscribe bool

	// FirstPush asks the gateway to push the current data right after
	// subscribing.
	FirstPush bool
}

type subscribeDescriptor struct{}

func (subscribeDescriptor) ProtoID() quote.ProtoID {
	return quote.ProtoQotSub
}

func (subscribeDescriptor) Pack(p subscribeParams) (*structpb.Struct, error) {
	insts, kinds, err := validateSubscription(p.Instruments, p.Kinds)
	if err != nil {
		return nil, errors.Trace(err)
	}

	body, err := structpb.NewStruct(map[string]interface{}{
		"securityList":     instrumentsToList(insts),
		"subTypeList":      kindsToList(kinds),
		"isSubOrUnSub":     p.Subscribe,
		"isRegOrUnRegPush": true,
		"isFirstPush":      p.FirstPush,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return body, nil
}

func (subscribeDescriptor) Unpack(body *structpb.Struct) (struct{}, error) {
	return struct{}{}, nil
}

// }}}

// subscription info {{{

type subInfoParams struct {
	AllConns bool
}

type subInfoDescriptor struct{}

func (subInfoDescriptor) ProtoID() quote.ProtoID {
	return quote.ProtoQotGetSubInfo
}

func (subInfoDescriptor) Pack(p subInfoParams) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"isReqAllConn": p.AllConns,
	})
}

func (subInfoDescriptor) Unpack(body *structpb.Struct) (*common.SubscriptionInfo, error) {
	totalUsed, err := quote.Int64(body, "totalUsedQuota")
	if err != nil {
		return nil, errors.Trace(err)
	}

	remain, err := quote.Int64(body, "remainQuota")
	if err != nil {
		return nil, errors.Trace(err)
	}

	info := &common.SubscriptionInfo{
		TotalUsedQuota: int(totalUsed),
		RemainQuota:    int(remain),
		Subscriptions:  make(map[common.SubType][]common.Instrument),
	}

	connList, err := quote.OptList(body, "connSubInfoList")
	if err != nil {
		return nil, errors.Trace(err)
	}

	conns, err := quote.StructList("connSubInfoList", connList)
	if err != nil {
		return nil, errors.Trace(err)
	}

	for _, conn := range conns {
		own, err := quote.OptBool(conn, "isOwnConnData")
		if err != nil {
			return nil, errors.Trace(err)
		}

		if own {
			used, err := quote.OptInt64(conn, "usedQuota")
			if err != nil {
				return nil, errors.Trace(err)
			}
			info.OwnUsedQuota += int(used)
		}

		subList, err := quote.OptList(conn, "subInfoList")
		if err != nil {
			return nil, errors.Trace(err)
		}

		subs, err := quote.StructList("subInfoList", subList)
		if err != nil {
			return nil, errors.Trace(err)
		}

		for _, sub := range subs {
			kindName, err := quote.String(sub, "subType")
			if err != nil {
				return nil, errors.Trace(err)
			}

			kind, err := common.ParseSubType(kindName)
			if err != nil {
				return nil, errors.Trace(err)
			}

			secList, err := quote.OptList(sub, "securityList")
			if err != nil {
				return nil, errors.Trace(err)
			}

			codes, err := quote.StringList("securityList", secList)
			if err != nil {
				return nil, errors.Trace(err)
			}

			for _, code := range codes {
				info.Subscriptions[kind] = append(info.Subscriptions[kind], common.Instrument(code))
			}
		}
	}

	return info, nil
}

// }}}

// history klines {{{

// HistoryKLineParams describes a historical candlestick request.
type HistoryKLineParams struct {
	Instrument common.Instrument
	KLType     common.KLType
	AuType     common.AuType

	// Start and End are inclusive dates in DateLayout.
	Start string
	End   string

	// ExtendedTime includes pre-market and after-hours candlesticks, where
	// the market has them.
	ExtendedTime bool
}

func (p HistoryKLineParams) validate() error {
	if err := p.Instrument.Validate(); err != nil {
		return errors.Trace(newConfigurationError("%s", err))
	}

	if _, ok := common.KLTypeNames[p.KLType]; !ok {
		return errors.Trace(newConfigurationError("unknown kline type %d", int32(p.KLType)))
	}

	if _, ok := common.AuTypeNames[p.AuType]; !ok {
		return errors.Trace(newConfigurationError("unknown adjustment type %d", int32(p.AuType)))
	}

	start, err := time.Parse(DateLayout, p.Start)
	if err != nil {
		return errors.Trace(newConfigurationError("start date %q: %s", p.Start, err))
	}

	end, err := time.Parse(DateLayout, p.End)
	if err != nil {
		return errors.Trace(newConfigurationError("end date %q: %s", p.End, err))
	}

	if end.Before(start) {
		return errors.Trace(newConfigurationError("end date %s is before start date %s", p.End, p.Start))
	}

	return nil
}

type historyKLineDescriptor struct{}

func (historyKLineDescriptor) ProtoID() quote.ProtoID {
	return quote.ProtoQotRequestHistoryKL
}

func (historyKLineDescriptor) Pack(p PageParams[HistoryKLineParams]) (*structpb.Struct, error) {
	if err := p.Params.validate(); err != nil {
		return nil, errors.Trace(err)
	}

	if p.PageSize <= 0 {
		return nil, errors.Trace(newConfigurationError("page size must be positive, got %d", p.PageSize))
	}

	fields := map[string]interface{}{
		"security":     string(p.Params.Instrument),
		"klType":       p.Params.KLType.String(),
		"rehabType":    p.Params.AuType.String(),
		"beginTime":    p.Params.Start,
		"endTime":      p.Params.End,
		"maxAckKLNum":  p.PageSize,
		"extendedTime": p.Params.ExtendedTime,
	}
	if p.Cursor != "" {
		fields["nextReqKey"] = string(p.Cursor)
	}

	body, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return body, nil
}

func (historyKLineDescriptor) Unpack(body *structpb.Struct) (Page[common.KLine], error) {
	code, err := quote.String(body, "security")
	if err != nil {
		return Page[common.KLine]{}, errors.Trace(err)
	}

	klType, err := quote.OptString(body, "klType")
	if err != nil {
		return Page[common.KLine]{}, errors.Trace(err)
	}

	kt := common.KLTypeNone
	if klType != "" {
		if kt, err = common.ParseKLType(klType); err != nil {
			return Page[common.KLine]{}, errors.Trace(err)
		}
	}

	list, err := quote.OptList(body, "klList")
	if err != nil {
		return Page[common.KLine]{}, errors.Trace(err)
	}

	items, err := quote.StructList("klList", list)
	if err != nil {
		return Page[common.KLine]{}, errors.Trace(err)
	}

	page := Page[common.KLine]{
		Records: make([]common.KLine, 0, len(items)),
	}

	for i, item := range items {
		kl, err := klineFromStruct(item)
		if err != nil {
			return Page[common.KLine]{}, errors.Annotatef(err, "kline %d", i)
		}
		kl.Instrument = common.Instrument(code)
		kl.KLType = kt

		page.Records = append(page.Records, kl)
	}

	next, err := quote.OptString(body, "nextReqKey")
	if err != nil {
		return Page[common.KLine]{}, errors.Trace(err)
	}
	page.Next = Cursor(next)

	return page, nil
}

func klineFromStruct(s *structpb.Struct) (common.KLine, error) {
	var (
		kl  common.KLine
		err error
	)

	timeKey, err := quote.String(s, "time")
	if err != nil {
		return kl, errors.Trace(err)
	}

	if kl.Time, err = time.Parse(common.TimeKeyLayout, timeKey); err != nil {
		return kl, errors.Annotatef(err, "time key")
	}

	if kl.OHLC.Open, err = quote.Decimal(s, "open"); err != nil {
		return kl, errors.Trace(err)
	}
	if kl.OHLC.High, err = quote.Decimal(s, "high"); err != nil {
		return kl, errors.Trace(err)
	}
	if kl.OHLC.Low, err = quote.Decimal(s, "low"); err != nil {
		return kl, errors.Trace(err)
	}
	if kl.OHLC.Close, err = quote.Decimal(s, "close"); err != nil {
		return kl, errors.Trace(err)
	}
	if kl.LastClose, err = quote.OptDecimal(s, "lastClose"); err != nil {
		return kl, errors.Trace(err)
	}
	if kl.Volume, err = quote.OptInt64(s, "volume"); err != nil {
		return kl, errors.Trace(err)
	}
	if kl.Turnover, err = quote.OptDecimal(s, "turnover"); err != nil {
		return kl, errors.Trace(err)
	}
	if kl.ChangeRate, err = quote.OptDecimal(s, "changeRate"); err != nil {
		return kl, errors.Trace(err)
	}

	return kl, nil
}

// }}}

// market snapshot {{{

type snapshotDescriptor struct{}

func (snapshotDescriptor) ProtoID() quote.ProtoID {
	return quote.ProtoQotGetSecuritySnapshot
}

func (snapshotDescriptor) Pack(instruments []common.Instrument) (*structpb.Struct, error) {
	if len(instruments) == 0 {
		return nil, errors.Trace(newConfigurationError("instrument list is empty"))
	}

	if len(instruments) > MaxSnapshotInstruments {
		return nil, errors.Trace(newConfigurationError(
			"too many instruments for a snapshot: %d, max %d", len(instruments), MaxSnapshotInstruments,
		))
	}

	for _, inst := range instruments {
		if err := inst.Validate(); err != nil {
			return nil, errors.Trace(newConfigurationError("%s", err))
		}
	}

	return structpb.NewStruct(map[string]interface{}{
		"securityList": instrumentsToList(instruments),
	})
}

func (snapshotDescriptor) Unpack(body *structpb.Struct) ([]common.MarketSnapshot, error) {
	list, err := quote.OptList(body, "snapshotList")
	if err != nil {
		return nil, errors.Trace(err)
	}

	items, err := quote.StructList("snapshotList", list)
	if err != nil {
		return nil, errors.Trace(err)
	}

	ret := make([]common.MarketSnapshot, 0, len(items))
	for i, item := range items {
		snap, err := snapshotFromStruct(item)
		if err != nil {
			return nil, errors.Annotatef(err, "snapshot %d", i)
		}
		ret = append(ret, snap)
	}

	return ret, nil
}

func snapshotFromStruct(s *structpb.Struct) (common.MarketSnapshot, error) {
	var (
		snap common.MarketSnapshot
		err  error
	)

	code, err := quote.String(s, "security")
	if err != nil {
		return snap, errors.Trace(err)
	}
	snap.Instrument = common.Instrument(code)

	if snap.Name, err = quote.OptString(s, "name"); err != nil {
		return snap, errors.Trace(err)
	}

	updateTime, err := quote.OptString(s, "updateTime")
	if err != nil {
		return snap, errors.Trace(err)
	}
	if updateTime != "" {
		if snap.UpdateTime, err = time.Parse(common.TimeKeyLayout, updateTime); err != nil {
			return snap, errors.Annotatef(err, "update time")
		}
	}

	if snap.LastPrice, err = quote.Decimal(s, "lastPrice"); err != nil {
		return snap, errors.Trace(err)
	}
	if snap.OpenPrice, err = quote.OptDecimal(s, "openPrice"); err != nil {
		return snap, errors.Trace(err)
	}
	if snap.HighPrice, err = quote.OptDecimal(s, "highPrice"); err != nil {
		return snap, errors.Trace(err)
	}
	if snap.LowPrice, err = quote.OptDecimal(s, "lowPrice"); err != nil {
		return snap, errors.Trace(err)
	}
	if snap.PrevClosePrice, err = quote.OptDecimal(s, "prevClosePrice"); err != nil {
		return snap, errors.Trace(err)
	}
	if snap.Volume, err = quote.OptInt64(s, "volume"); err != nil {
		return snap, errors.Trace(err)
	}
	if snap.Turnover, err = quote.OptDecimal(s, "turnover"); err != nil {
		return snap, errors.Trace(err)
	}
	if snap.Suspended, err = quote.OptBool(s, "isSuspend"); err != nil {
		return snap, errors.Trace(err)
	}

	return snap, nil
}

// }}}

// order book {{{

type orderBookParams struct {
	Instrument common.Instrument
	Depth      int
}

type orderBookDescriptor struct{}

func (orderBookDescriptor) ProtoID() quote.ProtoID {
	return quote.ProtoQotGetOrderBook
}

func (orderBookDescriptor) Pack(p orderBookParams) (*structpb.Struct, error) {
	if err := p.Instrument.Validate(); err != nil {
		return nil, errors.Trace(newConfigurationError("%s", err))
	}

	if p.Depth <= 0 || p.Depth > MaxOrderBookDepth {
		return nil, errors.Trace(newConfigurationError("order book depth must be in [1, %d], got %d", MaxOrderBookDepth, p.Depth))
	}

	return structpb.NewStruct(map[string]interface{}{
		"security": string(p.Instrument),
		"num":      p.Depth,
	})
}

func (orderBookDescriptor) Unpack(body *structpb.Struct) (*common.OrderBook, error) {
	ob, err := orderBookFromStruct(body)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &ob, nil
}

func orderBookFromStruct(s *structpb.Struct) (common.OrderBook, error) {
	code, err := quote.String(s, "security")
	if err != nil {
		return common.OrderBook{}, errors.Trace(err)
	}

	bids, err := priceLevelsFromStruct(s, "bidList")
	if err != nil {
		return common.OrderBook{}, errors.Trace(err)
	}

	asks, err := priceLevelsFromStruct(s, "askList")
	if err != nil {
		return common.OrderBook{}, errors.Trace(err)
	}

	return common.OrderBook{
		Instrument: common.Instrument(code),
		Bids:       bids,
		Asks:       asks,
	}, nil
}

func priceLevelsFromStruct(s *structpb.Struct, key string) ([]common.PriceLevel, error) {
	list, err := quote.OptList(s, key)
	if err != nil {
		return nil, errors.Trace(err)
	}

	items, err := quote.StructList(key, list)
	if err != nil {
		return nil, errors.Trace(err)
	}

	levels := make([]common.PriceLevel, 0, len(items))
	for _, item := range items {
		price, err := quote.Decimal(item, "price")
		if err != nil {
			return nil, errors.Annotatef(err, "%s", key)
		}

		volume, err := quote.OptInt64(item, "volume")
		if err != nil {
			return nil, errors.Annotatef(err, "%s", key)
		}

		orders, err := quote.OptInt64(item, "orderCount")
		if err != nil {
			return nil, errors.Annotatef(err, "%s", key)
		}

		levels = append(levels, common.PriceLevel{
			Price:      price,
			Volume:     volume,
			OrderCount: int32(orders),
		})
	}

	return levels, nil
}

// }}}
