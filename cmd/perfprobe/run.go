package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elus10n/profiler/internal/audit"
	"github.com/elus10n/profiler/internal/config"
	"github.com/elus10n/profiler/internal/metrics"
	"github.com/elus10n/profiler/internal/procinfo"
	"github.com/elus10n/profiler/internal/session"
	"github.com/elus10n/profiler/internal/transport"
	"github.com/elus10n/profiler/proto/profilerpb"
)

var (
	configPath     string
	metricFlags    []string
	intervalMs     int
	auditPath      string
	collectorAddr  string
	insecureTransp bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <program> [args...]",
	Short: "Spawn a program and profile it until it exits or Ctrl-C is pressed",
	Args:  cobra.MinimumNArgs(0),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file; flags below override its values")
	runCmd.Flags().StringArrayVar(&metricFlags, "metric", nil, "metric kind to sample (repeatable); defaults to page_faults")
	runCmd.Flags().IntVar(&intervalMs, "interval-ms", 0, "sampling interval in milliseconds, [100, 5000]")
	runCmd.Flags().StringVar(&auditPath, "audit-path", "", "append a tamper-evident session lifecycle log to this file")
	runCmd.Flags().StringVar(&collectorAddr, "collector-addr", "", "stream session events to this perfcollect gRPC address")
	runCmd.Flags().BoolVar(&insecureTransp, "insecure", false, "disable TLS when --collector-addr is set (development only)")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger(logLevel)

	cfg, program, programArgs, err := resolveRunConfig(args)
	if err != nil {
		return err
	}

	var auditLogger *audit.Logger
	if cfg.Audit.Enabled {
		auditLogger, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("perfprobe: open audit log: %w", err)
		}
		defer auditLogger.Close()
	}

	var opts []session.Option
	if auditLogger != nil {
		opts = append(opts, session.WithAuditLogger(auditLogger))
	}
	coord := session.New(logger, opts...)

	var client *transport.Client
	if cfg.Transport.Enabled {
		client = transport.New(transport.Config{
			CollectorAddr: cfg.Transport.Addr,
			Insecure:      cfg.Transport.Insecure,
			CertPath:      cfg.Transport.TLS.CertPath,
			KeyPath:       cfg.Transport.TLS.KeyPath,
			CAPath:        cfg.Transport.TLS.CAPath,
		}, logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("perfprobe: start transport: %w", err)
		}
		defer client.Stop()
	}

	wireCallbacks(coord, client)

	sessCfg := cfg.SessionConfig()
	if !coord.Start(program, programArgs, sessCfg) {
		return fmt.Errorf("perfprobe: failed to start session")
	}
	info := procinfo.Read(coord.Pid())
	logger.Info("profiling started", "program", program, "target", info.String(), "metrics", cfg.Metrics, "interval_ms", sessCfg.IntervalMs)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for coord.State() != session.Idle {
		select {
		case <-sigCh:
			logger.Info("received interrupt, stopping session")
			coord.Stop()
		case <-ticker.C:
		}
	}

	return nil
}

// wireCallbacks connects the coordinator's observer callbacks to stdout
// rendering and, when present, the remote transport client.
func wireCallbacks(coord *session.Coordinator, client *transport.Client) {
	coord.OnMetric(func(snap metrics.Snapshot) {
		b, _ := json.Marshal(snap)
		fmt.Println(string(b))
		if client != nil {
			// structpb only accepts generic JSON values, so the snapshot is
			// sent as its JSON object form rather than as the Go struct.
			var snapFields map[string]any
			_ = json.Unmarshal(b, &snapFields)
			client.Send(profilerpb.EventKindMetric, int32(coord.Pid()), map[string]any{
				profilerpb.FieldSnapshot: snapFields,
			})
		}
	})
	coord.OnLog(func(msg string) {
		fmt.Fprintf(os.Stderr, "log: %s\n", msg)
		if client != nil {
			client.Send(profilerpb.EventKindLog, int32(coord.Pid()), map[string]any{
				profilerpb.FieldMessage: msg,
			})
		}
	})
	coord.OnError(func(msg string) {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		if client != nil {
			client.Send(profilerpb.EventKindError, int32(coord.Pid()), map[string]any{
				profilerpb.FieldMessage: msg,
			})
		}
	})
}

// resolveRunConfig builds a *config.Config either from --config plus flag
// overrides, or from flags alone when --config is not given, returning the
// program and argv to spawn.
func resolveRunConfig(args []string) (*config.Config, string, []string, error) {
	var cfg *config.Config
	var err error

	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, "", nil, err
		}
	} else {
		cfg = &config.Config{LogLevel: logLevel}
	}

	if len(args) > 0 {
		cfg.Program = args[0]
		cfg.Args = args[1:]
	}
	if len(metricFlags) > 0 {
		cfg.Metrics = metricFlags
	}
	if intervalMs > 0 {
		cfg.IntervalMs = intervalMs
	}
	if auditPath != "" {
		cfg.Audit = config.AuditConfig{Enabled: true, Path: auditPath}
	}
	if collectorAddr != "" {
		cfg.Transport = config.TransportConfig{Enabled: true, Addr: collectorAddr, Insecure: insecureTransp}
	}

	if configPath == "" {
		// Flags-only invocation skips LoadConfig, so its validation does not
		// run here: only the program is required and the metric and interval
		// defaults are filled in. The interval range is still checked when
		// the session starts; metric names that are not recognised are
		// dropped by SessionConfig.
		if cfg.Program == "" {
			return nil, "", nil, fmt.Errorf("perfprobe: a program to run is required (pass it after --)")
		}
		if len(cfg.Metrics) == 0 {
			cfg.Metrics = []string{"page_faults"}
		}
		if cfg.IntervalMs == 0 {
			cfg.IntervalMs = 500
		}
	}

	return cfg, cfg.Program, cfg.Args, nil
}
