package scanloop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"gapscan/internal/candle"
	"gapscan/internal/contracts"
	"gapscan/internal/dedup"
	"gapscan/internal/marketdata"
	"gapscan/internal/notify"
	"gapscan/internal/pattern"
	"gapscan/internal/session"
	"gapscan/pkg/model"
)

// Config drives one scanner's loop.
type Config struct {
	Name     string
	Universe []string

	ScanInterval time.Duration
	// FatalSleep is the fixed pause after an unclassified cycle error.
	FatalSleep time.Duration

	IntradayLookback time.Duration
	DailyLookback    time.Duration
	ExtendedHours    bool

	// WaitForMarket keeps the loop alive outside the scan window. When
	// false a closed market ends the run.
	WaitForMarket bool
	Schedule      MarketSchedule

	// ClearSpec is a cron expression, in exchange-local time, at which
	// the dedup store is wiped (after the close, before the next
	// session). Empty disables the job.
	ClearSpec string
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		Name:             "scanner",
		ScanInterval:     30 * time.Second,
		FatalSleep:       5 * time.Minute,
		IntradayLookback: 7 * time.Hour,
		DailyLookback:    14 * 24 * time.Hour,
		WaitForMarket:    true,
		Schedule:         DefaultMarketSchedule(),
		ClearSpec:        "45 16 * * 1-5",
	}
}

// Scanner drives one polling loop: authenticate, refresh reference
// data, assemble frames, run the variants, gate and notify. Each
// scanner owns its loop; the only shared state is the governor
// registry inside the batch client.
type Scanner struct {
	cfg       Config
	session   *session.Manager
	cache     *contracts.Cache
	assembler *candle.Assembler
	cal       *candle.Calendar
	variants  []pattern.Variant
	gate      *dedup.Gate
	store     dedup.Store
	notifier  notify.Notifier

	now func() time.Time
}

// New wires a scanner. store may be nil when no clear job is wanted.
func New(cfg Config, sess *session.Manager, cache *contracts.Cache, assembler *candle.Assembler,
	cal *candle.Calendar, variants []pattern.Variant, gate *dedup.Gate, store dedup.Store,
	notifier notify.Notifier) *Scanner {
	return &Scanner{
		cfg:       cfg,
		session:   sess,
		cache:     cache,
		assembler: assembler,
		cal:       cal,
		variants:  variants,
		gate:      gate,
		store:     store,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Run loops until the context ends, the market closes with
// WaitForMarket off, or the session reaches its terminal state.
// Session exhaustion is the only error that stops a running scanner.
func (s *Scanner) Run(ctx context.Context) error {
	log.Printf("[%s] starting scan loop (%d tickers, every %s)",
		s.cfg.Name, len(s.cfg.Universe), s.cfg.ScanInterval)

	if s.cfg.ClearSpec != "" && s.store != nil {
		c := cron.New(cron.WithLocation(s.cal.Location()))
		if _, err := c.AddFunc(s.cfg.ClearSpec, s.clearDedup); err != nil {
			return fmt.Errorf("register clear job: %w", err)
		}
		c.Start()
		defer c.Stop()
	}

	for {
		status := GetMarketStatus(s.cal, s.cfg.Schedule, s.now())
		if !status.IsOpen {
			if !s.cfg.WaitForMarket {
				log.Printf("[%s] market %s, exiting", s.cfg.Name, status.Reason)
				return nil
			}
			log.Printf("[%s] market %s, next open in %s",
				s.cfg.Name, status.Reason, FormatDuration(status.TimeToOpen))
			if err := sleepCtx(ctx, status.TimeToOpen); err != nil {
				return err
			}
			continue
		}

		err := s.Cycle(ctx)
		switch {
		case errors.Is(err, session.ErrSessionDead):
			log.Printf("[%s] session exhausted, stopping", s.cfg.Name)
			return err
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			// Classified auth failures already flipped the session
			// machine; the next scheduled cycle reauthenticates. The
			// long sleep is reserved for unclassified errors.
			pause := s.cfg.FatalSleep
			var f marketdata.Failure
			if errors.As(err, &f) && f.Class == marketdata.ClassAuthFailure {
				pause = s.cfg.ScanInterval
			}
			log.Printf("[%s] cycle failed: %v (sleeping %s)", s.cfg.Name, err, pause)
			if serr := sleepCtx(ctx, pause); serr != nil {
				return serr
			}
		default:
			if serr := sleepCtx(ctx, s.cfg.ScanInterval); serr != nil {
				return serr
			}
		}
	}
}

// Cycle runs one scan pass. Failures degrade to skipping the affected
// work; panics are caught here so a bad cycle never kills the loop.
func (s *Scanner) Cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	// Refresh a token that would expire mid-cycle instead of tripping
	// an auth failure on a data fetch.
	if s.session.Expiring(s.cfg.ScanInterval + time.Minute) {
		log.Printf("[%s] session token expiring, refreshing early", s.cfg.Name)
		s.session.HandleAuthFailure()
	}
	if err := s.session.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	universe, err := s.cache.Ensure(ctx, s.cfg.Universe)
	if err != nil {
		return s.routeAuthFailure(fmt.Errorf("reference data: %w", err))
	}
	if len(universe) == 0 {
		log.Printf("[%s] no resolvable tickers this cycle", s.cfg.Name)
		return nil
	}

	asOf := s.now()
	daily, err := s.assembler.Assemble(ctx, universe, model.BarDaily, s.cfg.DailyLookback, false, asOf)
	if err != nil {
		return s.routeAuthFailure(fmt.Errorf("daily frame: %w", err))
	}
	intraday, err := s.assembler.Assemble(ctx, universe, model.BarOneMinute, s.cfg.IntradayLookback, s.cfg.ExtendedHours, asOf)
	if err != nil {
		return s.routeAuthFailure(fmt.Errorf("intraday frame: %w", err))
	}

	in := pattern.Input{Intraday: intraday, Daily: daily, Contracts: universe}

	var sent []model.PatternEvent
	for _, v := range s.variants {
		for _, ev := range v.Detect(in) {
			ok, gerr := s.gate.ShouldNotify(&ev)
			if gerr != nil {
				log.Printf("[%s] gate error for %s: %v", s.cfg.Name, ev.Ticker, gerr)
				continue
			}
			if !ok {
				continue
			}
			if nerr := s.notifier.Notify(ctx, &ev); nerr != nil {
				log.Printf("[%s] notify %s %s: %v", s.cfg.Name, ev.Pattern, ev.Ticker, nerr)
				continue
			}
			sent = append(sent, ev)
		}
	}

	if err := s.gate.RecordSent(sent); err != nil {
		return fmt.Errorf("record sent: %w", err)
	}
	if len(sent) > 0 {
		log.Printf("[%s] cycle sent %d alerts", s.cfg.Name, len(sent))
	}
	return nil
}

// routeAuthFailure hands expired-session failures to the session
// manager so the next cycle reauthenticates; the current cycle's fetch
// is abandoned either way.
func (s *Scanner) routeAuthFailure(err error) error {
	var f marketdata.Failure
	if errors.As(err, &f) && f.Class == marketdata.ClassAuthFailure {
		s.session.HandleAuthFailure()
	}
	return err
}

func (s *Scanner) clearDedup() {
	n, err := s.store.ClearAll()
	if err != nil {
		log.Printf("[%s] dedup clear failed: %v", s.cfg.Name, err)
		return
	}
	log.Printf("[%s] dedup store cleared (%d keys)", s.cfg.Name, n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
