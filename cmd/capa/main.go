// Command capa post-processes screen and camera recordings: it adds a mixed
// master audio track, aligns a camera clip to a screen recording, rewrites
// video to a constant frame rate and reports audio peaks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/capa/internal/config"
	"github.com/MrWong99/capa/internal/health"
	"github.com/MrWong99/capa/internal/observe"
	"github.com/MrWong99/capa/internal/postprocess"
	"github.com/MrWong99/capa/pkg/audio"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

const defaultConfigPath = "capa.yaml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errUsage marks command line mistakes.
var errUsage = errors.New("usage")

func run(args []string, stdout, stderr io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("capa", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "path to the YAML configuration file")
	fs.Usage = func() { printUsage(stderr) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() == 0 {
		printUsage(stderr)
		return exitUsage
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(fs, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "capa: %v\n", err)
		return exitFail
	}

	// ── Command line ──────────────────────────────────────────────────────────
	c := &cli{
		cfg:     cfg,
		stdout:  stdout,
		stderr:  stderr,
		meters:  audio.NewMeters(),
		tracker: health.New(),
	}
	name := fs.Arg(0)
	op, err := c.command(name, fs.Args()[1:])
	if err != nil {
		fmt.Fprintf(stderr, "capa: %v\n", err)
		return exitUsage
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     reg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitFail
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		stopServer, err := serveMetrics(addr, reg, c.tracker)
		if err != nil {
			slog.Error("failed to serve metrics", "addr", addr, "err", err)
			return exitFail
		}
		defer stopServer()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	c.proc = postprocess.New(
		postprocess.WithLogger(logger),
		postprocess.WithMetrics(observe.DefaultMetrics()),
		postprocess.WithMeters(c.meters),
	)

	ctx, span := observe.StartSpan(ctx, "capa "+name)
	runLog := observe.LoggerFrom(ctx, logger)
	c.tracker.Start(name, observe.RunID(ctx))
	err = op(ctx)
	c.tracker.Finish(err)
	observe.EndSpan(span, err)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		runLog.Warn("interrupted")
		return exitFail
	default:
		runLog.Error("command failed", "command", name, "err", err)
		return exitFail
	}
}

// loadConfig loads the configuration. A missing file at the default path
// means defaults; a missing file that was asked for explicitly is an error.
func loadConfig(fs *flag.FlagSet, path string) (*config.Config, error) {
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	return cfg, err
}

// serveMetrics serves /metrics, /healthz and /status on addr until the
// returned stop function is called.
func serveMetrics(addr string, reg *prometheus.Registry, tracker *health.Tracker) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	tracker.Register(mux)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown", "err", err)
		}
	}, nil
}

// ── Subcommands ───────────────────────────────────────────────────────────────

type cli struct {
	cfg     *config.Config
	proc    *postprocess.Processor
	meters  *audio.Meters
	tracker *health.Tracker
	stdout  io.Writer
	stderr  io.Writer
}

// operation is a parsed subcommand ready to run.
type operation func(context.Context) error

// command parses the arguments of subcommand name. Every error it returns is
// a usage error.
func (c *cli) command(name string, args []string) (operation, error) {
	switch name {
	case "master":
		return c.master(args)
	case "align":
		return c.align(args)
	case "cfr":
		return c.cfr(args)
	case "peaks":
		return c.peaks(args)
	default:
		printUsage(c.stderr)
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

// parse parses args with fs and checks the number of positional arguments.
func (c *cli) parse(fs *flag.FlagSet, args []string, want int, names string) ([]string, error) {
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errUsage, fs.Name(), err)
	}
	if fs.NArg() != want {
		return nil, fmt.Errorf("%w: capa %s [flags] %s", errUsage, fs.Name(), names)
	}
	return fs.Args(), nil
}

func (c *cli) master(args []string) (operation, error) {
	fs := flag.NewFlagSet("master", flag.ContinueOnError)
	noMic := fs.Bool("no-mic", false, "leave the microphone out of the master mix")
	noSystem := fs.Bool("no-system", false, "leave the system audio out of the master mix")
	pos, err := c.parse(fs, args, 1, "<recording.mkv>")
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		err := c.proc.AddMasterAudioTrack(ctx, pos[0], postprocess.MasterOptions{
			IncludeMicrophone:  !*noMic,
			IncludeSystemAudio: !*noSystem,
			Mix:                c.cfg.Mix,
		})
		if err != nil {
			return err
		}
		for _, r := range []audio.Role{audio.RoleMicrophone, audio.RoleSystem} {
			if lvl, ok := c.meters.Level(r); ok {
				fmt.Fprintf(c.stdout, "%-10s %6.1f dB%s\n", r, lvl.DB, clipMark(lvl.Clipped))
			}
		}
		return nil
	}, nil
}

func (c *cli) align(args []string) (operation, error) {
	fs := flag.NewFlagSet("align", flag.ContinueOnError)
	pos, err := c.parse(fs, args, 2, "<camera.mkv> <screen.mkv>")
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return c.proc.AddMasterAlignmentTrack(ctx, pos[0], pos[1])
	}, nil
}

func (c *cli) cfr(args []string) (operation, error) {
	fs := flag.NewFlagSet("cfr", flag.ContinueOnError)
	fps := fs.Int("fps", c.cfg.CFR.FPS, "target frame rate")
	pos, err := c.parse(fs, args, 1, "<recording.mkv>")
	if err != nil {
		return nil, err
	}
	if *fps == 0 {
		return nil, fmt.Errorf("%w: cfr is disabled in the configuration; pass -fps", errUsage)
	}
	return func(ctx context.Context) error {
		return c.proc.RewriteCFR(ctx, pos[0], *fps)
	}, nil
}

func (c *cli) peaks(args []string) (operation, error) {
	fs := flag.NewFlagSet("peaks", flag.ContinueOnError)
	pos, err := c.parse(fs, args, 1, "<recording.mkv>")
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		peaks, err := c.proc.MeasurePeaks(ctx, pos[0])
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TRACK\tTITLE\tROLE\tPEAK\tBLOCKS")
		for _, p := range peaks {
			role := p.Role.String()
			if p.Master {
				role = "master"
			}
			level := "n/a"
			if p.Measured {
				level = fmt.Sprintf("%.1f dB%s", p.Peak.DB, clipMark(p.Peak.Clipped))
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", p.Track.ID, p.Track.Title, role, level, p.Blocks)
		}
		return tw.Flush()
	}, nil
}

func clipMark(clipped bool) string {
	if clipped {
		return " (clipped)"
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage:
  capa [-config capa.yaml] master [-no-mic] [-no-system] <recording.mkv>
  capa [-config capa.yaml] align  <camera.mkv> <screen.mkv>
  capa [-config capa.yaml] cfr    [-fps N] <recording.mkv>
  capa [-config capa.yaml] peaks  <recording.mkv>
`)
}

// newLogger creates an [slog.Logger] writing text to w at the given level.
func newLogger(w io.Writer, level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.Level()}))
}
