package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/cpufreqd/internal/config"
	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
	"codeberg.org/mutker/cpufreqd/internal/governor"
	"codeberg.org/mutker/cpufreqd/internal/idle"
	"codeberg.org/mutker/cpufreqd/internal/logger"
	"codeberg.org/mutker/cpufreqd/internal/metrics"
	"codeberg.org/mutker/cpufreqd/internal/pid"
	"codeberg.org/mutker/cpufreqd/internal/policy"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type app struct {
	cfg      *config.Config
	loader   *config.Loader
	platform *cpufreq.Sysfs
	domains  []*cpufreq.Domain
	limits   map[int]cpufreq.Limits
	signals  *policy.Signals
	gov      *governor.Governor
	watcher  *idle.Watcher
	metrics  metrics.Collector
	started  []*cpufreq.Domain
}

func main() {
	loader, err := config.NewLoader()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write pid file")
	}

	a, err := newApp(cfg, loader)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove pid file")
		}
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	runErr := a.run(ctx)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("error in main loop")
	}

	if err := a.cleanup(); err != nil {
		logger.Error().Err(err).Msg("cleanup failed")
		runErr = multierr.Append(runErr, err)
	}
	logger.Info().Msg("Exiting...")

	if runErr != nil {
		os.Exit(1)
	}
}

func newApp(cfg *config.Config, loader *config.Loader) (*app, error) {
	errFactory := errors.New()

	a := &app{
		cfg:      cfg,
		loader:   loader,
		platform: cpufreq.NewSysfs(cfg.SysfsRoot, logger.New("cpufreq")),
		limits:   make(map[int]cpufreq.Limits),
		signals:  policy.New(),
	}

	domains, err := a.platform.Discover()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrDiscoverDomains, err)
	}
	a.domains = domains

	var setter cpufreq.Setter = a.platform
	if cfg.Monitor {
		setter = cpufreq.NewMonitor(logger.New("monitor"))
	}

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics
	metricsCfg.DBPath = cfg.MetricsDB
	collector, err := metrics.NewService(metricsCfg, logger.New("metrics"))
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitMetrics, err)
	}
	a.metrics = collector

	a.signals.Apply(signalsFrom(cfg))

	procStat := idle.NewProcStat()
	a.gov = governor.New(procStat, setter,
		governor.WithLogger(logger.New("governor")),
		governor.WithSignals(a.signals),
		governor.WithRecorder(collector),
		governor.WithRealtime(cfg.Realtime),
		governor.WithTunables(governor.NewTunables(tunablesFrom(cfg))),
	)
	a.watcher = idle.NewWatcher(procStat,
		time.Duration(cfg.IdlePoll)*time.Microsecond,
		uint64(cfg.IdleThreshold),
		logger.New("idle"))

	return a, nil
}

func (a *app) run(ctx context.Context) error {
	if a.cfg.Interval <= 0 {
		return errors.New().WithData(errors.ErrInvalidInterval, struct{ Interval int }{a.cfg.Interval})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.gov.Run(ctx) })

	if err := a.startDomains(); err != nil {
		cancel()
		return multierr.Append(err, group.Wait())
	}

	group.Go(func() error { return a.watcher.Run(ctx) })
	group.Go(func() error { return a.loop(ctx) })

	if err := a.loader.Watch(ctx, a.reload); err != nil {
		logger.Debug().Err(err).Msg("Configuration file not watched")
	}

	return group.Wait()
}

func (a *app) startDomains() error {
	errFactory := errors.New()

	if a.cfg.Monitor {
		logger.Info().Msg("Monitor mode activated. Logging frequency decisions...")
	}

	for _, d := range a.domains {
		if !a.cfg.Monitor {
			if err := a.platform.Acquire(d); err != nil {
				return errFactory.Wrap(errors.ErrStartGovernor, err)
			}
		}

		current, err := a.platform.Current(d)
		if err != nil {
			logger.Warn().Err(err).Stringer("domain", d).Msg("Failed to read current frequency, assuming maximum")
			current = d.Table.Max()
		}

		if err := a.gov.Start(d, current); err != nil {
			return errFactory.Wrap(errors.ErrStartGovernor, err)
		}
		a.started = append(a.started, d)

		a.checkLimits(d)
		a.watcher.Register(d.CPUs, a.gov)
	}

	return nil
}

func (a *app) loop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(a.cfg.Interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, d := range a.started {
				a.checkLimits(d)
			}
			logState(a.cfg, a.gov.Snapshot())
		}
	}
}

// checkLimits forwards a changed scaling_min_freq/scaling_max_freq pair to
// the governor.
func (a *app) checkLimits(d *cpufreq.Domain) {
	limits, err := a.platform.Limits(d)
	if err != nil {
		logger.Warn().Err(err).Stringer("domain", d).Msg("Failed to read policy limits")
		return
	}
	if last, ok := a.limits[d.ID]; ok && last == limits {
		return
	}

	if err := a.gov.LimitsChanged(d, limits.Min, limits.Max); err != nil {
		logger.Warn().Err(err).Stringer("domain", d).Msg("Failed to apply policy limits")
		return
	}
	a.limits[d.ID] = limits

	logger.Debug().
		Stringer("domain", d).
		Uint64("min", uint64(limits.Min)).
		Uint64("max", uint64(limits.Max)).
		Msg("Policy limits changed")
}

func (a *app) reload(cfg *config.Config) {
	if err := a.gov.Tunables().Apply(tunablesFrom(cfg)); err != nil {
		logger.Warn().Err(err).Msg("Ignoring invalid tunables")
	}
	a.signals.Apply(signalsFrom(cfg))

	if level, ok := logger.ParseLevel(cfg.LogLevel); ok {
		logger.SetLogLevel(level)
	}

	if cfg.Realtime != a.cfg.Realtime || cfg.SysfsRoot != a.cfg.SysfsRoot || cfg.Monitor != a.cfg.Monitor {
		logger.Warn().Msg("realtime, sysfs_root and monitor only take effect after a restart")
	}

	// Cores parked at their ceiling only resample on request
	a.gov.Resample()
}

func (a *app) stopDomains() {
	for _, d := range a.started {
		a.watcher.Unregister(d.CPUs)
		a.gov.Stop(d)
	}
	a.started = nil
}

func (a *app) cleanup() error {
	var err error

	a.stopDomains()

	if !a.cfg.Monitor {
		if restoreErr := a.platform.Restore(); restoreErr != nil {
			err = multierr.Append(err, errors.New().Wrap(errors.ErrRestoreGovernor, restoreErr))
		}
	}

	if closeErr := a.metrics.Close(); closeErr != nil {
		err = multierr.Append(err, errors.New().Wrap(errors.ErrCloseMetrics, closeErr))
	}

	if pidErr := pid.Remove(); pidErr != nil {
		err = multierr.Append(err, pidErr)
	}

	return err
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func tunablesFrom(cfg *config.Config) governor.TunableValues {
	return governor.TunableValues{
		GoHispeedLoad: uint64(cfg.GoHispeedLoad),
		MinSampleTime: uint64(cfg.MinSampleTime),
		TimerRate:     uint64(cfg.TimerRate),
		HispeedFreq:   cpufreq.Frequency(cfg.HispeedFreq),
		BoostFactor:   uint64(cfg.BoostFactor),
	}
}

func signalsFrom(cfg *config.Config) policy.Update {
	return policy.Update{
		PowerSaving:  cfg.PowerSaving,
		Suspended:    cfg.Suspended,
		PowerSaveMax: cpufreq.Frequency(cfg.PowerSaveMaxFreq),
		SleepMax:     cpufreq.Frequency(cfg.SleepMaxFreq),
	}
}

func logState(cfg *config.Config, domains []governor.DomainStatus) {
	for _, d := range domains {
		if cfg.Debug {
			logger.Debug().
				Stringer("domain", d.Domain).
				Uint64("applied", uint64(d.Applied)).
				Uint64("min", uint64(d.Limits.Min)).
				Uint64("max", uint64(d.Limits.Max)).
				Uint64("ceiling", uint64(d.Ceiling)).
				Interface("targets", lo.Map(d.Cores, func(c governor.CoreStatus, _ int) uint64 {
					return uint64(c.Target)
				})).
				Interface("idling", lo.FilterMap(d.Cores, func(c governor.CoreStatus, _ int) (cpufreq.CPU, bool) {
					return c.CPU, c.Idling
				})).
				Interface("pending", lo.FilterMap(d.Cores, func(c governor.CoreStatus, _ int) (cpufreq.CPU, bool) {
					return c.CPU, c.Pending
				})).
				Bool("monitor", cfg.Monitor).
				Msg("")
		} else if cfg.Verbose || cfg.Monitor {
			logger.Info().
				Stringer("domain", d.Domain).
				Uint64("frequency", uint64(d.Applied)).
				Uint64("ceiling", uint64(d.Ceiling)).
				Int("idle_cores", lo.CountBy(d.Cores, func(c governor.CoreStatus) bool { return c.Idling })).
				Msg("")
		}
	}
}
