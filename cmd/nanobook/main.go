package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nanobook/internal/backtest"
	"nanobook/internal/config"
	"nanobook/internal/exchange"
	"nanobook/internal/itch"
	"nanobook/internal/sweep"
	"nanobook/internal/types"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (default: ./nanobook.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Listen)
	}

	switch flag.Arg(0) {
	case "replay":
		path := flag.Arg(1)
		if path == "" {
			path = cfg.Replay.File
		}
		if path == "" {
			log.Fatal().Msg("replay: no feed file given")
		}
		if err := runReplay(path, cfg.Replay.Depth); err != nil {
			log.Fatal().Err(err).Msg("replay failed")
		}
	case "sweep":
		if err := runSweep(cfg.Sweep); err != nil {
			log.Fatal().Err(err).Msg("sweep failed")
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: nanobook [-config file] replay <feed>|sweep")
		os.Exit(2)
	}
}

func setupLogging(lc config.LoggingConfig) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if lc.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// bookRef ties a feed order reference to the engine order it created.
type bookRef struct {
	symbol string
	id     types.OrderID
}

// runReplay decodes an ITCH feed and drives one exchange per symbol,
// translating feed order references to engine order ids.
func runReplay(path string, depth int) error {
	msgs, err := itch.ParseFile(path)
	if err != nil {
		mtxDecodeErrors.Inc()
		if len(msgs) == 0 {
			return err
		}
		// Events decoded before the error remain valid.
		log.Warn().Err(err).Int("events", len(msgs)).Msg("feed truncated by decode error")
	}

	books := make(map[string]*exchange.Exchange)
	refs := make(map[uint64]bookRef)
	for _, msg := range msgs {
		switch msg.Event.Kind {
		case itch.EventSubmitLimit:
			ex, ok := books[msg.Symbol]
			if !ok {
				ex = exchange.New()
				books[msg.Symbol] = ex
			}
			res, err := ex.SubmitLimit(msg.Event.Side.String(), msg.Event.Price, msg.Event.Quantity, "gtc")
			if err != nil {
				log.Warn().Err(err).Uint64("ref", msg.Event.Ref).Msg("replay submit rejected")
				continue
			}
			refs[msg.Event.Ref] = bookRef{symbol: msg.Symbol, id: res.OrderID}
			mtxOrders.WithLabelValues("limit", msg.Event.Side.String()).Inc()
			mtxTrades.Add(float64(len(res.Trades)))
		case itch.EventModify:
			ref, ok := refs[msg.Event.Ref]
			if !ok {
				continue
			}
			res := books[ref.symbol].Modify(ref.id, msg.Event.Price, msg.Event.Quantity)
			delete(refs, msg.Event.Ref)
			if res.Success {
				refs[msg.Event.NewRef] = bookRef{symbol: ref.symbol, id: res.NewOrderID}
				mtxTrades.Add(float64(len(res.Result.Trades)))
			}
		case itch.EventCancel:
			ref, ok := refs[msg.Event.Ref]
			if !ok {
				continue
			}
			books[ref.symbol].Cancel(ref.id)
			delete(refs, msg.Event.Ref)
		}
	}

	for sym, ex := range books {
		bid, ask := ex.BestBidAsk()
		ev := log.Info().Str("symbol", sym).Int("trades", len(ex.Trades()))
		if bid != nil {
			ev = ev.Int64("bestBid", *bid)
			mtxBestBid.WithLabelValues(sym).Set(float64(*bid))
		}
		if ask != nil {
			ev = ev.Int64("bestAsk", *ask)
			mtxBestAsk.WithLabelValues(sym).Set(float64(*ask))
		}
		ev.Msg("replay book")

		snap := ex.Depth(depth)
		for _, lvl := range snap.Bids {
			log.Debug().Str("symbol", sym).Int64("price", lvl.Price).Uint64("qty", lvl.Total).Msg("bid level")
		}
		for _, lvl := range snap.Asks {
			log.Debug().Str("symbol", sym).Int64("price", lvl.Price).Uint64("qty", lvl.Total).Msg("ask level")
		}
	}
	return nil
}

func runSweep(sc config.SweepConfig) error {
	if sc.PricesCSV == "" {
		return fmt.Errorf("sweep: no prices csv configured")
	}
	series, err := loadPriceCSV(sc.PricesCSV)
	if err != nil {
		return err
	}
	results := sweep.EqualWeight(sc.Params, series, sc.InitialCash, sc.PeriodsPerYear, sc.RiskFree)
	for i, m := range results {
		if m == nil {
			mtxSweepBacktests.WithLabelValues("failed").Inc()
			log.Warn().Int("param", i).Msg("sweep slot failed")
			continue
		}
		mtxSweepBacktests.WithLabelValues("ok").Inc()
		log.Info().
			Int("param", i).
			Float64("totalReturn", m.TotalReturn).
			Float64("sharpe", m.Sharpe).
			Float64("maxDrawdown", m.MaxDrawdown).
			Msg("sweep result")
	}
	return nil
}

// loadPriceCSV reads a wide price table: a header row of symbols followed
// by one row of integer cent prices per period. Blank cells skip that
// symbol for the period.
func loadPriceCSV(path string) ([][]backtest.SymbolPrice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var symbols []string
	var series [][]backtest.SymbolPrice
	row := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if row == 0 {
			for _, h := range rec {
				symbols = append(symbols, strings.TrimSpace(h))
			}
			row++
			continue
		}
		var period []backtest.SymbolPrice
		for j, cell := range rec {
			cell = strings.TrimSpace(cell)
			if cell == "" || j >= len(symbols) {
				continue
			}
			cents, err := strconv.ParseInt(cell, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", row, j, err)
			}
			period = append(period, backtest.SymbolPrice{Symbol: symbols[j], Price: cents})
		}
		series = append(series, period)
		row++
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("no price rows in %s", path)
	}
	return series, nil
}
