package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"gapscan/internal/candle"
	"gapscan/internal/config"
	"gapscan/internal/contracts"
	"gapscan/internal/dedup"
	"gapscan/internal/marketdata"
	"gapscan/internal/notify"
	"gapscan/internal/pattern"
	"gapscan/internal/ratelimit"
	"gapscan/internal/scanloop"
	"gapscan/internal/session"
	"gapscan/internal/symbols"
	"gapscan/pkg/model"
)

var (
	cfgFile    string
	symbolList string
	format     string
	extended   bool
)

func main() {
	godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "gapscan",
		Short: "US equity gap and breakout pattern scanner",
		Long: `Gapscan watches a small-cap universe for intraday gap patterns:

Patterns:
  initial-pop           - gap up over the prior day's body with an extended move
  initial-dip           - the pop mirrored downward
  breakout              - close or high over every prior bar, volume confirmed
  prevday-support       - pullback to a ramp day's open or low
  prevday-continuation  - gap up or push back to a ramp day's high

Examples:
  gapscan scan --symbols GFAI,COSM
  gapscan watch --config config.yaml
  gapscan clear`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan pass and print the matches",
		RunE:  runScan,
	}
	scanCmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated tickers (default: configured universe)")
	scanCmd.Flags().StringVar(&format, "format", "table", "output format: table, json")
	scanCmd.Flags().BoolVar(&extended, "extended", false, "include extended-hours bars")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the continuous scan loop with alert delivery",
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated tickers (default: configured universe)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Wipe the dedup store",
		RunE:  runClear,
	}

	rootCmd.AddCommand(scanCmd, watchCmd, clearCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// stack bundles the wired pipeline for one command invocation.
type stack struct {
	cfg       *config.Config
	client    *marketdata.Client
	session   *session.Manager
	cal       *candle.Calendar
	cache     *contracts.Cache
	assembler *candle.Assembler
	variants  []pattern.Variant
}

func buildStack() (*stack, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := marketdata.NewClient(cfg.API.BaseURL, ratelimit.NewRegistry())
	sess := session.NewManager(session.Config{
		Credentials: session.Credentials{
			Username: cfg.API.Username,
			APIKey:   cfg.API.Key,
		},
		MaxRetries:   cfg.Session.MaxRetries,
		RetryBackoff: cfg.Session.RetryBackoff,
	}, client)
	cal := candle.NewCalendar(cfg.API.MIC)

	return &stack{
		cfg:       cfg,
		client:    client,
		session:   sess,
		cal:       cal,
		cache:     contracts.NewCache(client),
		assembler: candle.NewAssembler(client, cal),
		variants:  pattern.GetAll(cfg.Patterns),
	}, nil
}

// resolveUniverse picks the ticker list: --symbols, a universe file, a
// named universe, then the optional screener refresh.
func (s *stack) resolveUniverse(ctx context.Context) ([]string, error) {
	if symbolList != "" {
		var tickers []string
		for _, sym := range strings.Split(symbolList, ",") {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			if !symbols.IsValidTicker(sym) {
				return nil, fmt.Errorf("invalid ticker %q", sym)
			}
			tickers = append(tickers, sym)
		}
		return tickers, nil
	}

	var tickers []string
	if s.cfg.Scan.UniverseFile != "" {
		loaded, err := symbols.Load(s.cfg.Scan.UniverseFile)
		if err != nil {
			return nil, err
		}
		tickers = loaded
	} else {
		tickers = symbols.Get(symbols.Universe(s.cfg.Scan.Universe))
		if tickers == nil {
			return nil, fmt.Errorf("unknown universe %q", s.cfg.Scan.Universe)
		}
	}

	if s.cfg.Scan.Screener {
		screened, err := symbols.NewScreener(s.client).Run(ctx, symbols.DefaultScreenerFilter())
		if err != nil {
			fmt.Fprintf(os.Stderr, "screener refresh failed, keeping configured universe: %v\n", err)
		} else if len(screened) > 0 {
			tickers = screened
		}
	}
	return tickers, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping...")
		cancel()
	}()
	return ctx, cancel
}

func runScan(cmd *cobra.Command, args []string) error {
	s, err := buildStack()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickers, err := s.resolveUniverse(ctx)
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		return fmt.Errorf("no tickers to scan")
	}

	fmt.Printf("Scanning %d tickers for gap patterns...\n\n", len(tickers))

	steps := 3 + len(s.variants)
	bar := progressbar.NewOptions(steps,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Scanning"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	if err := s.session.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	universe, err := s.cache.Ensure(ctx, tickers)
	if err != nil {
		return fmt.Errorf("reference data: %w", err)
	}
	bar.Add(1)

	asOf := time.Now()
	daily, err := s.assembler.Assemble(ctx, universe, model.BarDaily, s.cfg.Scan.DailyLookback, false, asOf)
	if err != nil {
		return fmt.Errorf("daily frame: %w", err)
	}
	bar.Add(1)

	intraday, err := s.assembler.Assemble(ctx, universe, model.BarOneMinute, s.cfg.Scan.IntradayLookback, extended, asOf)
	if err != nil {
		return fmt.Errorf("intraday frame: %w", err)
	}
	bar.Add(1)

	in := pattern.Input{Intraday: intraday, Daily: daily, Contracts: universe}
	var events []model.PatternEvent
	for _, v := range s.variants {
		events = append(events, v.Detect(in)...)
		bar.Add(1)
	}
	bar.Finish()
	fmt.Println()

	if format == "json" {
		return outputJSON(events, len(tickers))
	}
	return outputTable(events, len(tickers))
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := buildStack()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickers, err := s.resolveUniverse(ctx)
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		return fmt.Errorf("no tickers to watch")
	}

	store, err := dedup.NewSQLiteStore(s.cfg.Dedup.Path)
	if err != nil {
		return fmt.Errorf("opening dedup store: %w", err)
	}
	defer store.Close()

	var notifier notify.Notifier = notify.LogNotifier{}
	if s.cfg.Notify.WebhookURL != "" {
		notifier = notify.Multi{
			notify.LogNotifier{},
			notify.NewWebhookNotifier(s.cfg.Notify.WebhookURL),
		}
	}

	loopCfg := scanloop.DefaultConfig()
	loopCfg.Name = "gapscan"
	loopCfg.Universe = tickers
	loopCfg.ScanInterval = s.cfg.Scan.ScanInterval
	loopCfg.FatalSleep = s.cfg.Scan.FatalSleep
	loopCfg.IntradayLookback = s.cfg.Scan.IntradayLookback
	loopCfg.DailyLookback = s.cfg.Scan.DailyLookback
	loopCfg.ExtendedHours = s.cfg.Scan.ExtendedHours
	loopCfg.WaitForMarket = s.cfg.Scan.WaitForMarket
	loopCfg.ClearSpec = s.cfg.Dedup.ClearSpec
	if s.cfg.Scan.ExtendedHours {
		loopCfg.Schedule = scanloop.ExtendedMarketSchedule()
	}

	gate := dedup.NewGate(store, s.cfg.GatePolicies())
	scanner := scanloop.New(loopCfg, s.session, s.cache, s.assembler, s.cal,
		s.variants, gate, store, notifier)

	err = scanner.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Dedup.Path == "" {
		return fmt.Errorf("dedup.path is not configured")
	}

	store, err := dedup.NewSQLiteStore(cfg.Dedup.Path)
	if err != nil {
		return fmt.Errorf("opening dedup store: %w", err)
	}
	defer store.Close()

	n, err := store.ClearAll()
	if err != nil {
		return fmt.Errorf("clearing: %w", err)
	}
	fmt.Printf("Cleared %d dedup keys from %s\n", n, cfg.Dedup.Path)
	return nil
}

func outputTable(events []model.PatternEvent, totalScanned int) error {
	if len(events) == 0 {
		fmt.Printf("No patterns found across %d tickers.\n", totalScanned)
		return nil
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Trigger.Equal(events[j].Trigger) {
			return events[i].Ticker < events[j].Ticker
		}
		return events[i].Trigger.Before(events[j].Trigger)
	})

	fmt.Printf("Found %d pattern matches:\n\n", len(events))

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "Pattern", "Trigger", "Close", "Change", "Volume", "Ref"}),
	)
	for _, ev := range events {
		table.Append([]string{
			ev.Ticker,
			ev.Pattern.String(),
			ev.Trigger.Format("15:04"),
			fmt.Sprintf("$%.2f", ev.Close),
			fmt.Sprintf("%+.1f%%", ev.ChangePct),
			fmt.Sprintf("%.0f", ev.Volume),
			fmt.Sprintf("$%.2f", ev.Reference),
		})
	}
	table.Render()
	return nil
}

func outputJSON(events []model.PatternEvent, totalScanned int) error {
	out := struct {
		TotalScanned int                  `json:"total_scanned"`
		Matches      int                  `json:"matches"`
		Events       []model.PatternEvent `json:"events"`
	}{
		TotalScanned: totalScanned,
		Matches:      len(events),
		Events:       events,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
