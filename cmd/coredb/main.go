// Command coredb is the server entry point from §6D: it wires flags,
// config, and signal handling around one internal/engine.Engine,
// following leftmike-maho's spf13/cobra root-command layout. Flags are
// registered on the root command itself, and runServer loads the
// optional YAML file, whose values apply only to flags not set on the
// command line.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/edgesql/coredb/internal/engine"
	"github.com/edgesql/coredb/internal/exec"
	"github.com/edgesql/coredb/internal/worker"
	"github.com/edgesql/coredb/pkg/logging"
)

var log = logging.For("cmd")

// version is set at release build time; "dev" otherwise.
var version = "dev"

var (
	flagBind    = "127.0.0.1"
	flagPort    = 6543
	flagDataDir = "coredb-data"
	flagWorkers = 0
	flagConfig  = ""
)

// fileConfig is the shape of the optional --config YAML file, mirroring
// the subset of flags a deployment might want to pin outside argv.
type fileConfig struct {
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
	Workers int    `yaml:"workers"`
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "coredb",
		Short:   "An embedded SQL storage and execution engine",
		Version: version,
		RunE:    runServer,
	}
	fs := cmd.Flags()
	fs.StringVar(&flagBind, "bind", flagBind, "address to bind the connection listener to")
	fs.IntVar(&flagPort, "port", flagPort, "port to listen on")
	fs.StringVar(&flagDataDir, "data-dir", flagDataDir, "directory containing table and WAL files")
	fs.IntVar(&flagWorkers, "workers", flagWorkers, "worker pool size (0 = number of CPUs)")
	fs.StringVar(&flagConfig, "config", flagConfig, "optional YAML config file overriding defaults")
	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.WithError(err).Error("coredb: fatal error")
		os.Exit(1)
	}
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	fc, err := loadFileConfig(flagConfig)
	if err != nil {
		return fmt.Errorf("coredb: loading config: %w", err)
	}
	bind, port, dataDir, workers := resolveConfig(cmd, fc)

	workers = resolveWorkerCount(workers)

	cfg := engine.DefaultConfig(dataDir)
	cfg.Workers = workers

	e, err := engine.OpenEngine(newOsFs(), cfg)
	if err != nil {
		return fmt.Errorf("coredb: opening engine: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", bind, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("coredb: listening on %s: %w", addr, err)
	}
	log.WithField("addr", addr).WithField("workers", workers).Info("coredb listening")

	ctx, cancelAccept := context.WithCancel(context.Background())
	pool := worker.New(ctx, e, workers, handleConnection)
	pool.Start()

	ignoreSIGPIPE()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- acceptLoop(ln, pool) }()

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("coredb: shutdown signal received")
	case err := <-acceptErr:
		if err != nil {
			log.WithError(err).Error("coredb: accept loop failed")
		}
	}

	cancelAccept()
	ln.Close()
	_ = pool.Drain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Close(shutdownCtx); err != nil {
		return fmt.Errorf("coredb: shutdown: %w", err)
	}
	log.Info("coredb: clean shutdown")
	return nil
}

func resolveConfig(cmd *cobra.Command, fc fileConfig) (bind string, port int, dataDir string, workers int) {
	bind, port, dataDir, workers = flagBind, flagPort, flagDataDir, flagWorkers
	flags := cmd.Flags()
	if fc.Bind != "" && !flags.Changed("bind") {
		bind = fc.Bind
	}
	if fc.Port != 0 && !flags.Changed("port") {
		port = fc.Port
	}
	if fc.DataDir != "" && !flags.Changed("data-dir") {
		dataDir = fc.DataDir
	}
	if fc.Workers != 0 && !flags.Changed("workers") {
		workers = fc.Workers
	}
	return
}

func resolveWorkerCount(workers int) int {
	if workers > 0 {
		return workers
	}
	return runtime.NumCPU()
}

func newOsFs() afero.Fs { return afero.NewOsFs() }

// ignoreSIGPIPE matches §6's "SIGPIPE is ignored" requirement: a
// connection writer hitting a closed socket must return EPIPE to the
// caller rather than kill the process.
func ignoreSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}

// acceptLoop feeds accepted connections into pool until the listener is
// closed, at which point net.Listener.Accept returns an error and the
// loop exits. Every Accept error ends the loop with a nil result, so a
// deliberate close during shutdown and a genuine listener failure look
// the same to the caller.
func acceptLoop(ln net.Listener, pool *worker.Pool) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil // listener closed during shutdown; not a fatal error
		}
		pool.Submit(conn)
	}
}

// handleConnection is the placeholder statement surface from §6D: real
// wire-protocol parsing is out of scope, so each line of input is one
// SQL statement, executed with a zero exec.Budget (no per-query limits),
// with results reported back as plain text.
func handleConnection(ctx context.Context, conn net.Conn, e *engine.Engine) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rows, err := e.ExecuteSQL(ctx, line, exec.Budget{})
		if err != nil {
			fmt.Fprintf(conn, "error: %s\n", err)
			continue
		}
		fmt.Fprintf(conn, "ok: %d rows\n", len(rows))
	}
}
