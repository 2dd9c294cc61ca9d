package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/archive"
	"github.com/ruckmetrics/ruckd/pkg/calories"
	"github.com/ruckmetrics/ruckd/pkg/config"
	"github.com/ruckmetrics/ruckd/pkg/geo"
	"github.com/ruckmetrics/ruckd/pkg/logx"
	"github.com/ruckmetrics/ruckd/pkg/metrics"
	"github.com/ruckmetrics/ruckd/pkg/pidfile"
	"github.com/ruckmetrics/ruckd/pkg/publish"
	"github.com/ruckmetrics/ruckd/pkg/sensors"
	"github.com/ruckmetrics/ruckd/pkg/session"
	"github.com/ruckmetrics/ruckd/pkg/store"
	"github.com/ruckmetrics/ruckd/pkg/supervisor"
)

var (
	configPath = flag.String("config", "/etc/ruckd/ruckd.conf", "Path to configuration file")
	pidPath    = flag.String("pid-file", "/tmp/ruckd.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "", "Override log level (trace|debug|info|warn|error)")
	version    = flag.Bool("version", false, "Show version information")
	foreground = flag.Bool("foreground", false, "Log to stderr instead of structured JSON")

	replayPath = flag.String("replay", "", "Replay a recorded session file and exit")
	replayRate = flag.Duration("replay-rate", 0, "Pacing between replayed fixes (0 = as fast as possible)")

	bodyWeight = flag.Float64("body-weight", 80, "Body weight in kg for calorie estimation")
	packWeight = flag.Float64("pack-weight", 0, "Pack weight in kg for calorie estimation")
	gender     = flag.String("gender", "", "Athlete gender for calorie coefficients (male|female)")
	age        = flag.Int("age", 30, "Athlete age in years")
	routeLine  = flag.String("route", "", "Planned route as a Google encoded polyline for ETA")
)

const (
	AppName    = "ruckd"
	AppVersion = "1.0.0"
)

// recordedSession is the replay file format: the raw sensor streams of one
// session as captured by a recorder.
type recordedSession struct {
	Fixes     []pkg.RawFix          `json:"fixes"`
	HeartRate []pkg.HeartRateSample `json:"heart_rate,omitempty"`
	Steps     []pkg.StepSample      `json:"steps,omitempty"`
	Pressure  []pkg.PressureSample  `json:"pressure,omitempty"`
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	effectiveLogLevel := cfg.LogLevel
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	logger := logx.NewLogger(effectiveLogLevel, AppName)
	if *foreground {
		logger.SetPlainOutput()
	}

	pidFile := pidfile.New(*pidPath)
	if err := pidFile.Create(); err != nil {
		logger.Error("Failed to create PID file", "error", err, "path", *pidPath)
		os.Exit(1)
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("Failed to remove PID file", "error", err)
		}
	}()

	logger.Info("Starting ruck telemetry daemon",
		"version", AppVersion,
		"pid", os.Getpid(),
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logx.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persist, err := store.Open(cfg.StatePath, logger.WithComponent("store"))
	if err != nil {
		return err
	}
	defer persist.Close()

	arch, err := archive.Open(cfg.ArchivePath, logger.WithComponent("archive"))
	if err != nil {
		return err
	}
	defer arch.Close()

	collector := metrics.NewCollector(logger.WithComponent("metrics"))
	if cfg.MetricsListener {
		if err := collector.Serve(cfg.MetricsPort); err != nil {
			return err
		}
		defer collector.Shutdown(context.Background())
	}

	publisher := publish.NewPublisher(&publish.Config{
		Enabled:     cfg.MQTTEnabled,
		Broker:      cfg.MQTTBroker,
		Port:        cfg.MQTTPort,
		ClientID:    cfg.MQTTClientID,
		Username:    cfg.MQTTUsername,
		Password:    cfg.MQTTPassword,
		TopicPrefix: cfg.MQTTTopicPrefix,
		QoS:         cfg.MQTTQoS,
	}, logger.WithComponent("publish"))
	if err := publisher.Connect(); err != nil {
		// Live publishing is best-effort; the session must not depend on it.
		logger.Warn("Publisher unavailable", "error", err)
	}
	defer publisher.Close()

	recorded, sources, err := buildSources()
	if err != nil {
		return err
	}

	manager := session.NewManager(cfg, sources, &supervisor.NopWakeLock{}, supervisor.TimerScheduler{}, persist, arch, logger.WithComponent("session"))
	manager.OnFix = collector.ObserveFix
	manager.OnEvent = func(e pkg.SessionEvent) {
		collector.ObserveEvent(e)
		publisher.PublishEvent(e)
	}

	params, err := buildParams()
	if err != nil {
		return err
	}

	// A session that was active when the process died restarts immediately.
	recovered, err := manager.RecoverAfterReboot(ctx, params)
	if err != nil {
		logger.Error("Reboot recovery failed", "error", err)
	} else if recovered {
		logger.Info("Recovered persisted session")
	}

	if recorded && !recovered {
		if _, err := manager.StartSession(ctx, params); err != nil {
			return fmt.Errorf("start replay session: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.PublishIntervalS) * time.Second)
	defer ticker.Stop()

	var lastUpdated time.Time
	for {
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, shutting down", "signal", sig.String())
			return finalize(manager, logger)

		case <-ticker.C:
			snap := manager.Snapshot()
			est := manager.Calories()
			collector.UpdateSession(snap, est)
			publisher.PublishSnapshot(snap)

			// A replay session ends when the recorded stream stops advancing
			// the track.
			if recorded && manager.State() == pkg.StateActive && snap.AcceptedFixes > 0 {
				if snap.UpdatedAt.Equal(lastUpdated) {
					logger.Info("Replay drained, finalizing")
					return finalize(manager, logger)
				}
				lastUpdated = snap.UpdatedAt
			}
		}
	}
}

func finalize(manager *session.Manager, logger *logx.Logger) error {
	if manager.State() != pkg.StateActive && manager.State() != pkg.StateResurrecting {
		return nil
	}
	snap, est, err := manager.Finalize()
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	logger.Info("Session complete",
		"distance_m", snap.DistanceM,
		"elevation_gain_m", snap.ElevationGainM,
		"fused_kcal", est.FusedKcal,
		"steps", snap.StepCount,
	)
	return nil
}

// buildSources returns the sensor factory. With -replay it loads the
// recorded streams; without it the daemon has no live platform sources and
// only recovers or idles.
func buildSources() (recorded bool, factory session.SourceFactory, err error) {
	if *replayPath == "" {
		return false, func() *sensors.Set {
			return &sensors.Set{Location: &sensors.ReplayLocationSource{}}
		}, nil
	}

	data, err := os.ReadFile(*replayPath)
	if err != nil {
		return false, nil, fmt.Errorf("read replay file: %w", err)
	}
	var rec recordedSession
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, nil, fmt.Errorf("decode replay file: %w", err)
	}
	if len(rec.Fixes) == 0 {
		return false, nil, fmt.Errorf("replay file %s contains no fixes", *replayPath)
	}

	return true, func() *sensors.Set {
		set := &sensors.Set{
			Location: &sensors.ReplayLocationSource{FixSeq: rec.Fixes, Interval: *replayRate},
		}
		if len(rec.HeartRate) > 0 {
			set.HeartRate = &sensors.ReplayHeartRateSource{SampleSeq: rec.HeartRate}
		}
		if len(rec.Steps) > 0 {
			set.Step = &sensors.ReplayStepSource{StepSeq: rec.Steps}
		}
		if len(rec.Pressure) > 0 {
			set.Barometer = &sensors.ReplayBarometerSource{PressureSeq: rec.Pressure}
		}
		return set
	}, nil
}

func buildParams() (session.Params, error) {
	params := session.Params{
		Calories: calories.Params{
			BodyWeightKg: *bodyWeight,
			PackWeightKg: *packWeight,
			Gender:       pkg.Gender(*gender),
			Age:          *age,
		},
	}

	if *routeLine != "" {
		route, err := geo.DecodeRoute(*routeLine)
		if err != nil {
			return session.Params{}, err
		}
		params.Route = route
	}
	return params, nil
}
