// Package main is the AcademiaOS CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/cli"
	"github.com/academiaos/academiaos/internal/config"
	"github.com/academiaos/academiaos/internal/embedding"
	"github.com/academiaos/academiaos/internal/export"
	"github.com/academiaos/academiaos/internal/extract"
	"github.com/academiaos/academiaos/internal/llm"
	"github.com/academiaos/academiaos/internal/models"
	"github.com/academiaos/academiaos/internal/pipeline"
	"github.com/academiaos/academiaos/internal/server"
	"github.com/academiaos/academiaos/internal/session"
	"github.com/academiaos/academiaos/internal/telemetry"
	"github.com/academiaos/academiaos/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath  = "/usr/local/etc/academiaos/config.yaml"
	defaultSessionPath = "session.json"
)

type command func(args []string, out io.Writer) error

var commands = map[string]command{
	"init":   runInit,
	"import": runImport,
	"run":    runRun,
	"phase":  runPhase,
	"show":   runShow,
	"export": runExport,
	"usage":  runUsage,
	"server": runServer,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	name := os.Args[1]
	switch name {
	case "version", "--version", "-v":
		fmt.Printf("academiaos version %s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Printf("Unknown command: %s\n", name)
		printUsage()
		os.Exit(1)
	}
	if err := cmd(os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}

// loadConfig loads config from path. When path is the default, a config.yaml
// in the working directory wins, and with neither present the built-in
// defaults are used. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// argsReorder moves flags that appear after positional arguments to the
// front so flag.Parse sees them. The flag package stops at the first
// positional, so "academiaos phase codes --restart" would otherwise ignore
// --restart. A value following a flag moves with it unless the flag is
// boolean or written as --flag=value.
func argsReorder(args []string, boolFlags ...string) []string {
	isBool := func(a string) bool {
		name := strings.TrimLeft(a, "-")
		for _, b := range boolFlags {
			if name == b {
				return true
			}
		}
		return false
	}
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positional = append(positional, args[i+1:]...)
			flags = append(flags, "--")
			break
		}
		if len(a) > 1 && a[0] == '-' {
			flags = append(flags, a)
			if !strings.Contains(a, "=") && !isBool(a) && i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		positional = append(positional, a)
	}
	return append(flags, positional...)
}

// env is the state shared by commands: config, logger and the closers of
// whatever they opened.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	closers []func() error
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
	_ = e.logger.Sync()
}

type commonFlags struct {
	config  *string
	session *string
	debug   *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:  fs.String("config", defaultConfigPath, "config file path"),
		session: fs.String("session", defaultSessionPath, "session document path"),
		debug:   fs.Bool("debug", false, "enable debug logging"),
	}
}

func newEnv(c commonFlags) (*env, error) {
	cfg, resolved, err := loadConfig(*c.config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || *c.debug
	logger, err := utils.NewFileLogger(debug, cfg.Log.File)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return &env{cfg: cfg, logger: logger}, nil
}

// gateway builds the chat gateway and embedder. Failures are reported before
// any phase starts. The ledger is returned whenever telemetry opened, even
// when the providers could not be built.
func (e *env) gateway() (*llm.Gateway, embedding.Embedder, *telemetry.SQLiteLedger, error) {
	rec, ledger, err := telemetry.NewWithLedger(e.cfg.Telemetry, e.logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("telemetry: %w", err)
	}
	e.closers = append(e.closers, rec.Close)

	gw, err := llm.New(e.cfg.LLM, llm.WithLogger(e.logger), llm.WithRecorder(rec))
	if err != nil {
		return nil, nil, ledger, err
	}
	emb, err := embedding.New(e.cfg, e.logger)
	if err != nil {
		return nil, nil, ledger, fmt.Errorf("embedding: %w", err)
	}
	e.closers = append(e.closers, emb.Close)
	return gw, emb, ledger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func parseFormat(s string) cli.OutputFormat {
	f, err := cli.ParseFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return f
}

func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	c := addCommonFlags(fs)
	query := fs.String("query", "", "research question")
	force := fs.Bool("force", false, "overwrite an existing session document")
	_ = fs.Parse(argsReorder(args, "debug", "force"))

	if _, err := os.Stat(*c.session); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *c.session)
	}
	if err := session.SaveFile(*c.session, models.NewModelData(*query)); err != nil {
		return err
	}
	fmt.Fprintf(out, "Created session %s\n", *c.session)
	return nil
}

func runImport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	c := addCommonFlags(fs)
	_ = fs.Parse(argsReorder(args, "debug"))
	if fs.NArg() < 1 {
		return errors.New("usage: academiaos import [flags] <file|dir>...")
	}

	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	data, err := session.LoadFile(*c.session)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	papers, importErr := extract.NewImporter(e.logger).Import(ctx, fs.Args()...)
	if importErr != nil {
		if ctx.Err() != nil {
			return importErr
		}
		fmt.Fprintf(os.Stderr, "some files were skipped:\n%v\n", importErr)
	}
	if len(papers) == 0 {
		return errors.New("no papers imported")
	}

	sess := session.New("", data)
	ids := sess.AddPapers(papers...)
	if err := session.SaveFile(*c.session, sess.Snapshot()); err != nil {
		return err
	}
	for i, p := range papers {
		fmt.Fprintf(out, "%s  %s\n", ids[i], cli.Truncate(p.Title, 70))
	}
	fmt.Fprintf(out, "Imported %d papers into %s\n", len(papers), *c.session)
	return nil
}

// openPipeline loads the session document and builds a pipeline whose commits
// are written back to it.
func (e *env) openPipeline(path string) (*pipeline.Pipeline, error) {
	data, err := session.LoadFile(path)
	if err != nil {
		return nil, err
	}
	gw, emb, _, err := e.gateway()
	if err != nil {
		return nil, err
	}
	comp, err := pipeline.BuildComponents(e.cfg, gw, emb, e.logger)
	if err != nil {
		return nil, err
	}
	save := func(_ context.Context, s *session.Session) error {
		return session.SaveFile(path, s.Snapshot())
	}
	return pipeline.New(session.New("", data), comp,
		pipeline.WithLogger(e.logger),
		pipeline.WithCommitHook(save),
	)
}

func runRun(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	c := addCommonFlags(fs)
	remarks := fs.String("remarks", "", "remarks passed to every phase")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args, "debug"))
	format := parseFormat(*output)

	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()
	p, err := e.openPipeline(*c.session)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	reports, runErr := p.Run(ctx, *remarks)
	if err := cli.WriteReports(out, reports, format); err != nil {
		return err
	}
	return runErr
}

func runPhase(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("phase", flag.ExitOnError)
	c := addCommonFlags(fs)
	remarks := fs.String("remarks", "", "remarks for this phase")
	restart := fs.Bool("restart", false, "discard previous output of the phase and start over")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args, "debug", "restart"))
	if fs.NArg() != 1 {
		return errors.New("usage: academiaos phase [flags] <codes|themes|dimensions|model|critique|visualize>")
	}
	phase, err := pipeline.ParsePhase(fs.Arg(0))
	if err != nil {
		return err
	}
	format := parseFormat(*output)

	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()
	p, err := e.openPipeline(*c.session)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	rep, runErr := p.RunPhase(ctx, phase, *remarks, pipeline.RunOptions{Restart: *restart})
	if err := cli.WriteReports(out, []*pipeline.PhaseReport{rep}, format); err != nil {
		return err
	}
	return runErr
}

func runShow(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	c := addCommonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args, "debug"))
	format := parseFormat(*output)

	data, err := session.LoadFile(*c.session)
	if err != nil {
		return err
	}
	return cli.WriteModel(out, data, format)
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	c := addCommonFlags(fs)
	target := fs.String("out", "", "output workbook path (default: session path with .xlsx)")
	_ = fs.Parse(argsReorder(args, "debug"))

	data, err := session.LoadFile(*c.session)
	if err != nil {
		return err
	}
	path := *target
	if path == "" {
		path = strings.TrimSuffix(*c.session, filepath.Ext(*c.session)) + ".xlsx"
	}
	if err := export.WriteFile(path, data); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

func runUsage(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	c := addCommonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args, "debug"))
	format := parseFormat(*output)

	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()
	if !e.cfg.Telemetry.Enabled {
		return errors.New("telemetry is disabled (set telemetry.enabled in the config)")
	}
	ledger, err := telemetry.NewSQLiteLedger(e.cfg.Telemetry.DatabasePath)
	if err != nil {
		return err
	}
	defer ledger.Close()
	rows, err := ledger.Summary(context.Background())
	if err != nil {
		return err
	}
	return cli.WriteUsage(out, rows, format)
}

func runServer(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	c := addCommonFlags(fs)
	_ = fs.Parse(args)

	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()
	logger := e.logger

	store, err := session.NewDirStore(e.cfg.Storage.SessionDir)
	if err != nil {
		return err
	}

	var usage server.UsageSource
	gw, emb, ledger, buildErr := e.gateway()
	if ledger != nil {
		usage = ledger
	}
	if buildErr != nil {
		logger.Warn("model providers unavailable; phases will be rejected", zap.Error(buildErr))
	}
	factory := func(s *session.Session) (*pipeline.Pipeline, error) {
		if buildErr != nil {
			return nil, buildErr
		}
		comp, err := pipeline.BuildComponents(e.cfg, gw, emb, logger)
		if err != nil {
			return nil, err
		}
		return pipeline.New(s, comp, pipeline.WithLogger(logger), pipeline.WithCommitHook(store.Save))
	}

	srv := server.NewServer(store, factory, extract.NewImporter(logger), usage, &e.cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	fmt.Fprintf(out, "Listening on %s:%d\n", e.cfg.Server.Host, e.cfg.Server.Port)

	ctx, cancel := signalContext()
	defer cancel()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

func printUsage() {
	fmt.Println(`academiaos - Gioia-method qualitative research pipeline

Usage:
  academiaos init [flags]                 Create an empty session document
  academiaos import [flags] <path>...     Extract papers from files or directories
  academiaos run [flags]                  Run codes, themes, dimensions and model in order
  academiaos phase [flags] <phase>        Run one phase: codes, themes, dimensions, model, critique, visualize
  academiaos show [flags]                 Print the session
  academiaos export [flags]               Write the data structure workbook (.xlsx)
  academiaos usage [flags]                Show model usage from the telemetry ledger
  academiaos server [flags]               Start the HTTP API
  academiaos version                      Show version
  academiaos help                         Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/academiaos/config.yaml, or ./config.yaml)
  --session string   Session document path (default: session.json)
  --debug            Enable debug logging

Init Flags:
  --query string     Research question
  --force            Overwrite an existing session document

Run / Phase Flags:
  --remarks string   Remarks passed to the model
  --restart          (phase only) Discard previous output and start over
  --output string    Output format: text or json (default: text)

Export Flags:
  --out string       Workbook path (default: session path with .xlsx)

Examples:
  academiaos init --query "How does trust shape nurse autonomy?"
  academiaos import ./papers
  academiaos phase codes --remarks "focus on night shifts"
  academiaos run
  academiaos show --output json
  academiaos export --out structure.xlsx
  academiaos server --config config.yaml`)
}
