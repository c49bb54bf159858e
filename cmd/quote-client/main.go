package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/golang/protobuf/jsonpb"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	flag "github.com/spf13/pflag"
	"github.com/y3sh/quote-sdk-go/client/websocket"
	"github.com/y3sh/quote-sdk-go/common"
	"github.com/y3sh/quote-sdk-go/storage/sqlite"
)

var (
	configFilename = flag.String("config", "", "YAML config file.")
	gatewayURL     = flag.String("url", "", "Gateway address; overrides the config.")
	logConfig      = flag.String("log-config", "", "loggo config, like \"<root>=INFO\"; overrides the config.")
	verbose        = flag.BoolP("verbose", "v", false, "Print state changes and debug messages.")

	subs      = flag.StringSlice("sub", nil, "Instruments to subscribe to, like HK.00700. Can be given multiple times.")
	kinds     = flag.StringSlice("kind", []string{"QUOTE"}, "Kinds to subscribe to, like QUOTE,ORDER_BOOK,K_1M.")
	firstPush = flag.Bool("first-push", true, "Ask the gateway to push current data right after subscribing.")

	history  = flag.String("history", "", "Instrument to download historical candlesticks of.")
	klType   = flag.String("kltype", "K_DAY", "Candlestick period for --history.")
	auType   = flag.String("autype", "QFQ", "Price adjustment for --history: NONE, QFQ or HFQ.")
	start    = flag.String("start", "", "First day for --history, yyyy-mm-dd; a year before --end if empty.")
	end      = flag.String("end", "", "Last day for --history, yyyy-mm-dd; today if empty.")
	maxCount = flag.Int("max-count", 0, "Maximum number of candlesticks for --history; 0 means all.")
	pageSize = flag.Int("page-size", 0, "Candlesticks per page for --history.")
	dbPath   = flag.String("db", "", "SQLite database to save --history to; overrides the config.")

	snapshot  = flag.StringSlice("snapshot", nil, "Instruments to print market snapshots of.")
	orderBook = flag.String("orderbook", "", "Instrument to print the order book of.")
	depth     = flag.Int("depth", websocket.MaxOrderBookDepth, "Order book depth.")
	showSubs  = flag.Bool("show-subs", false, "Print the subscriptions held by the gateway.")
)

var (
	red    = color.RedString
	green  = color.GreenString
	yellow = color.YellowString
	cyan   = color.CyanString
)

const stableTimeout = 30 * time.Second

func main() {
	flag.Parse()

	if err := run(); err != nil {
		log.Fatalf("%s", errors.ErrorStack(err))
	}
}

func run() error {
	// Setup OS signal handler
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	cfg, err := LoadConfig(*configFilename)
	if err != nil {
		return errors.Trace(err)
	}

	if *gatewayURL != "" {
		cfg.URL = *gatewayURL
	}
	if *logConfig != "" {
		cfg.Logging = *logConfig
	}
	if *verbose {
		cfg.Logging = "<root>=DEBUG"
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	if err := loggo.ConfigureLoggers(cfg.Logging); err != nil {
		return errors.Annotatef(err, "logging config %q", cfg.Logging)
	}

	qc, err := websocket.NewQuoteClient(cfg.ClientParams())
	if err != nil {
		return errors.Trace(err)
	}

	stable := make(chan struct{}, 1)
	qc.OnSessionStateChange(func(prevState, curState websocket.SessionState) {
		if *verbose {
			fmt.Printf("Session: %s -> %s\n", prevState, cyan(curState.String()))
		}

		if curState == websocket.SessionStateStable {
			select {
			case stable <- struct{}{}:
			default:
			}
		}
	})

	qc.OnResubscribeResult(func(res websocket.ResubscribeResult) {
		if res.Err != nil {
			fmt.Printf("%s: %d/%d batches restored: %s\n", red("Resubscribe failed"), res.Sent, res.Batches, res.Err)
			return
		}

		if res.Pairs > 0 {
			fmt.Printf("%s %d subscriptions in %d batches\n", green("Restored"), res.Pairs, res.Batches)
		}
	})

	// Will print state changes to the user
	if *verbose {
		var lastError error

		qc.OnError(func(err error, disconnecting bool) {
			// If the client is going to disconnect because of that error, just save
			// the error to show later on the disconnection message.
			if disconnecting {
				lastError = err
				return
			}

			log.Printf("Error: %s", err.Error())
		})

		qc.OnStateChange(
			websocket.ConnStateAny,
			func(oldState, state websocket.ConnState) {
				fmt.Printf("State updated: %s -> %s", websocket.ConnStateNames[oldState], websocket.ConnStateNames[state])
				if lastError != nil {
					fmt.Printf(" (%s)", yellow(lastError.Error()))
					lastError = nil
				}
				fmt.Printf("\n")
			},
		)
	}

	m := &jsonpb.Marshaler{}
	qc.OnPush(func(push *websocket.Push) {
		str, err := m.MarshalToString(push.Data)
		if err != nil {
			log.Printf("Bad push %s %s: %s", push.Kind, push.Instrument, err)
			return
		}

		fmt.Printf("%s %s %s\n", cyan(push.Kind.String()), push.Instrument, str)
	})

	if *verbose {
		fmt.Printf("Connecting to %s ...\n", qc.URL())
	}
	if err := qc.Connect(); err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := qc.Close(); err != nil {
			fmt.Printf("Failed to close connection: %s\n", err)
		}
	}()

	select {
	case <-stable:
	case <-time.After(stableTimeout):
		return errors.Errorf("not connected to %s after %s", qc.URL(), stableTimeout)
	case <-interrupt:
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-interrupt:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := runRequests(ctx, qc, cfg); err != nil {
		return errors.Trace(err)
	}

	if len(*subs) == 0 {
		return nil
	}

	if err := subscribe(ctx, qc); err != nil {
		return errors.Trace(err)
	}

	// Wait until the OS signal is received, at which point we'll unsubscribe
	// and quit
	<-ctx.Done()
	fmt.Printf("Closing connection...\n")

	unsubCtx, unsubCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer unsubCancel()

	if err := qc.UnsubscribeAll(unsubCtx); err != nil {
		fmt.Printf("Failed to unsubscribe: %s\n", err)
	}

	return nil
}

func subscribe(ctx context.Context, qc *websocket.QuoteClient) error {
	insts, err := parseInstruments(*subs)
	if err != nil {
		return errors.Trace(err)
	}

	subTypes := make([]common.SubType, 0, len(*kinds))
	for _, s := range *kinds {
		st, err := common.ParseSubType(s)
		if err != nil {
			return errors.Trace(err)
		}
		subTypes = append(subTypes, st)
	}

	if err := qc.Subscribe(ctx, insts, subTypes, websocket.SubscribeOpt{FirstPush: *firstPush}); err != nil {
		return errors.Trace(err)
	}

	if *verbose {
		fmt.Printf("Subscribed to %v of %v\n", subTypes, insts)
	}

	return nil
}

func runRequests(ctx context.Context, qc *websocket.QuoteClient, cfg *Config) error {
	if len(*snapshot) > 0 {
		insts, err := parseInstruments(*snapshot)
		if err != nil {
			return errors.Trace(err)
		}

		snaps, err := qc.GetMarketSnapshot(ctx, insts)
		if err != nil {
			return errors.Trace(err)
		}

		for _, s := range snaps {
			fmt.Println(s)
		}
	}

	if *orderBook != "" {
		inst, err := common.ParseInstrument(*orderBook)
		if err != nil {
			return errors.Trace(err)
		}

		ob, err := qc.GetOrderBook(ctx, inst, *depth)
		if err != nil {
			return errors.Trace(err)
		}

		printOrderBook(ob)
	}

	if *showSubs {
		info, err := qc.QuerySubscription(ctx, true)
		if err != nil {
			return errors.Trace(err)
		}

		fmt.Println(info)
	}

	if *history != "" {
		if err := downloadHistory(ctx, qc, cfg.DBPath); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

// downloadHistory retrieves candlesticks and either prints them or saves
// them to the database. With a database, the cursor is saved as well, so an
// interrupted or capped download continues where it stopped.
func downloadHistory(ctx context.Context, qc *websocket.QuoteClient, dbPath string) error {
	inst, err := common.ParseInstrument(*history)
	if err != nil {
		return errors.Trace(err)
	}

	kt, err := common.ParseKLType(*klType)
	if err != nil {
		return errors.Trace(err)
	}

	at, err := common.ParseAuType(*auType)
	if err != nil {
		return errors.Trace(err)
	}

	var store *sqlite.KLineStore
	var cursor string

	if dbPath != "" {
		store, err = sqlite.Open(dbPath)
		if err != nil {
			return errors.Trace(err)
		}
		defer store.Close()

		cursor, err = store.LoadCursor(ctx, inst, kt)
		if err != nil {
			return errors.Trace(err)
		}

		if cursor != "" && *verbose {
			fmt.Printf("Resuming %s %s from %q\n", inst, kt, cursor)
		}
	}

	res, err := qc.RequestHistoryKLine(ctx, websocket.HistoryKLineParams{
		Instrument: inst,
		KLType:     kt,
		AuType:     at,
		Start:      *start,
		End:        *end,
	}, websocket.RetrieveOpts{
		PageSize: *pageSize,
		TotalCap: *maxCount,
		Cursor:   websocket.Cursor(cursor),
	})
	if err != nil {
		if resume, ok := websocket.ResumeCursor(err); ok {
			fmt.Printf("%s, rerun to resume from %q\n", red("Download failed"), resume)
		}
		return errors.Trace(err)
	}

	if store == nil {
		for _, kl := range res.Records {
			fmt.Println(kl)
		}
	} else {
		if err := store.SaveKLines(ctx, res.Records); err != nil {
			return errors.Trace(err)
		}

		if err := store.SaveCursor(ctx, inst, kt, string(res.Next)); err != nil {
			return errors.Trace(err)
		}

		fmt.Printf("%s %d candlesticks to %s\n", green("Saved"), len(res.Records), dbPath)
	}

	if res.Next != "" {
		fmt.Printf("More data available, next cursor %q\n", res.Next)
	}

	return nil
}

func printOrderBook(ob *common.OrderBook) {
	fmt.Printf("Order book %s\n", ob.Instrument)

	for i := len(ob.Asks) - 1; i >= 0; i-- {
		a := ob.Asks[i]
		fmt.Printf("  %s %10d (%d)\n", red("%12s", a.Price), a.Volume, a.OrderCount)
	}

	fmt.Println("  ------------")

	for _, b := range ob.Bids {
		fmt.Printf("  %s %10d (%d)\n", green("%12s", b.Price), b.Volume, b.OrderCount)
	}
}

func parseInstruments(v []string) ([]common.Instrument, error) {
	insts := make([]common.Instrument, 0, len(v))
	for _, s := range v {
		inst, err := common.ParseInstrument(s)
		if err != nil {
			return nil, errors.Trace(err)
		}
		insts = append(insts, inst)
	}

	return insts, nil
}
