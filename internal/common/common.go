// Package common holds what every command action shares: configuration,
// logging, the generation store and the mapping of errors to exit codes.
package common

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/freedevtools/fdtdb/models"
	"github.com/freedevtools/fdtdb/pkg/content"
	"github.com/freedevtools/fdtdb/pkg/report"
	"github.com/freedevtools/fdtdb/pkg/schema"
	"github.com/freedevtools/fdtdb/pkg/storage"
	"github.com/freedevtools/fdtdb/pkg/verify"
)

// Exit codes.
const (
	ExitOK           = 0
	ExitPrecondition = 1
	ExitFatal        = 2
)

// Env is what an action needs after flags and config are resolved.
type Env struct {
	Config *models.Config
	Store  *storage.Store
	Logger *slog.Logger
}

// NewLogger returns a JSON logger on stderr. quiet wins over verbose.
func NewLogger(quiet, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Setup loads configuration, applies global flag overrides, installs the
// logger as the default and opens the generation store.
func Setup(c *cli.Context) (*Env, error) {
	logger := NewLogger(c.Bool("quiet"), c.Bool("verbose"))
	slog.SetDefault(logger)

	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("db-dir"); dir != "" {
		cfg.DBDir = dir
	}
	if dir := c.String("report-dir"); dir != "" {
		cfg.ReportDir = dir
	}

	store, err := storage.NewStore(cfg.DBDir)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", "db_dir", store.Dir(), "data_dir", cfg.DataDir, "workers", cfg.Workers)
	return &Env{Config: cfg, Store: store, Logger: logger}, nil
}

// DomainArg resolves the first positional argument to a registered domain.
func DomainArg(c *cli.Context) (schema.Domain, error) {
	if c.NArg() == 0 {
		return schema.Domain{}, fmt.Errorf("%w: missing domain argument (known: %s)",
			schema.ErrUnknownDomain, strings.Join(schema.Domains(), ", "))
	}
	return schema.Lookup(c.Args().First())
}

// GenerationArg resolves an optional generation number given as the second
// positional argument or --generation; 0 selects the latest.
func GenerationArg(c *cli.Context, env *Env, domain string) (int, error) {
	n := c.Int("generation")
	if n == 0 && c.NArg() > 1 {
		v, err := strconv.Atoi(c.Args().Get(1))
		if err != nil || v < 1 {
			return 0, fmt.Errorf("invalid generation: %s", c.Args().Get(1))
		}
		n = v
	}
	if n > 0 {
		if !env.Store.HasFile(storage.FileName(domain, n)) {
			return 0, fmt.Errorf("%w: %s", storage.ErrNoGeneration, storage.FileName(domain, n))
		}
		return n, nil
	}
	g, err := env.Store.Latest(domain)
	if err != nil {
		return 0, err
	}
	return g.Version, nil
}

// ExitCode maps an error to the process exit code. Refused preconditions,
// missing input and failed verification exit 1; everything else exits 2.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, target := range []error{
		schema.ErrUnknownDomain,
		schema.ErrIncompatibleSchema,
		content.ErrSourceMissing,
		content.ErrCollision,
		storage.ErrPublished,
		storage.ErrWALPresent,
		storage.ErrExists,
		storage.ErrNoGeneration,
		storage.ErrNoSpace,
		storage.ErrLocked,
		storage.ErrUploadDisabled,
		storage.ErrIncomplete,
		verify.ErrVerificationFailed,
		ErrNotConfirmed,
	} {
		if errors.Is(err, target) {
			return ExitPrecondition
		}
	}
	return ExitFatal
}

// Exit wraps err for urfave/cli so the process exits with ExitCode(err).
func Exit(err error) error {
	if err == nil {
		return nil
	}
	return cli.Exit(err.Error(), ExitCode(err))
}

// ErrNotConfirmed is returned when a destructive command was declined.
var ErrNotConfirmed = errors.New("not confirmed")

// Confirm asks a yes/no question on out and reads the answer from in.
// Anything but y or yes declines.
func Confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// RequireConfirmation passes when --yes is set or the user confirms on
// stdin.
func RequireConfirmation(c *cli.Context, prompt string) error {
	if c.Bool("yes") {
		return nil
	}
	if !Confirm(os.Stdin, os.Stdout, prompt) {
		return ErrNotConfirmed
	}
	return nil
}

// SaveReport finishes run, writes it to the report directory and prints its
// table unless quiet.
func SaveReport(c *cli.Context, env *Env, run *report.Run, err error) {
	run.Finish(err)
	if !c.Bool("quiet") {
		report.PrintTable(os.Stdout, run, 20)
	}
	path, werr := report.Write(env.Config.ReportDir, run)
	if werr != nil {
		env.Logger.Warn("failed to write report", "run", run.ID, "error", werr)
		return
	}
	env.Logger.Info("report written", "run", run.ID, "path", path)
}
