package testrun

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/SpectraLogic/ds3-docker-runner/pkg/callback"
	"github.com/SpectraLogic/ds3-docker-runner/pkg/config"
	"github.com/SpectraLogic/ds3-docker-runner/pkg/mgmt"
	"github.com/SpectraLogic/ds3-docker-runner/pkg/pidlock"
	"github.com/SpectraLogic/ds3-docker-runner/pkg/s3probe"
	"github.com/SpectraLogic/ds3-docker-runner/pkg/shell"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrStepFailed - git clone or docker build exited with a non-zero code
var ErrStepFailed = errors.New("step failed")

type CredentialFetcher interface {
	FetchCredentials(ctx context.Context, userName string) (*mgmt.Credentials, error)
}

type CommandExecutor interface {
	Execute(ctx context.Context, argv []string) (*shell.Result, error)
}

type CredentialProber func(ctx context.Context, cfg *config.DS3Config, accessKey, secretKey string) (*s3probe.Result, error)

// Report - payload posted to general.callback_urls after a run
type Report struct {
	Operation string `json:"operation"`
	Image     string `json:"image"`
	Status    string `json:"status"`
	ExitCode  int    `json:"exit_code"`
	Error     string `json:"error,omitempty"`
	Duration  string `json:"duration"`
}

type TestRunner struct {
	cfg      *config.Config
	fetcher  CredentialFetcher
	executor CommandExecutor
	prober   CredentialProber
	callback callback.Fn
	out      io.Writer
}

type Option func(tr *TestRunner)

func WithFetcher(fetcher CredentialFetcher) Option {
	return func(tr *TestRunner) {
		tr.fetcher = fetcher
	}
}

func WithExecutor(executor CommandExecutor) Option {
	return func(tr *TestRunner) {
		tr.executor = executor
	}
}

func WithProber(prober CredentialProber) Option {
	return func(tr *TestRunner) {
		tr.prober = prober
	}
}

func WithOutput(out io.Writer) Option {
	return func(tr *TestRunner) {
		tr.out = out
	}
}

func NewTestRunner(cfg *config.Config, opts ...Option) (*TestRunner, error) {
	tr := &TestRunner{cfg: cfg}
	for _, opt := range opts {
		opt(tr)
	}
	if tr.fetcher == nil {
		client, err := mgmt.NewClient(&cfg.Management)
		if err != nil {
			return nil, err
		}
		tr.fetcher = client
	}
	if tr.executor == nil {
		tr.executor = shell.NewExecutor()
	}
	if tr.prober == nil {
		tr.prober = s3probe.Probe
	}
	if tr.out == nil {
		tr.out = os.Stdout
	}
	cb, err := callback.Parse(cfg.General.CallbackURLs)
	if err != nil {
		return nil, err
	}
	tr.callback = cb
	return tr, nil
}

// Credentials fetches the S3 key pair of management.user_name, verifying it when asked
func (tr *TestRunner) Credentials(ctx context.Context, verify bool) (*mgmt.Credentials, error) {
	userName := tr.cfg.Management.UserName
	creds, err := tr.fetcher.FetchCredentials(ctx, userName)
	if err != nil {
		return nil, errors.Wrapf(err, "can't fetch S3 credentials of %q", userName)
	}
	log.Info().Str("user", creds.User.Name).Str("userId", creds.User.ID.String()).Str("accessKey", creds.Key.AuthID).Msg("fetched S3 credentials")
	if verify {
		result, err := tr.prober(ctx, &tr.cfg.DS3, creds.Key.AuthID, creds.Key.SecretKey)
		if err != nil {
			return nil, err
		}
		log.Info().Str("endpoint", result.Endpoint).Int("buckets", len(result.Buckets)).Msg("S3 credentials verified")
	}
	return creds, nil
}

// PrintExports writes `export NAME=value` lines suitable for eval in a shell
func (tr *TestRunner) PrintExports(ctx context.Context, verify bool) error {
	creds, err := tr.Credentials(ctx, verify)
	if err != nil {
		return err
	}
	for _, v := range BuildEnvironment(tr.cfg, creds) {
		if _, err := fmt.Fprintf(tr.out, "export %s=%s\n", v.Name, shellQuote(v.Value)); err != nil {
			return err
		}
	}
	return nil
}

// Run fetches credentials, exports them, optionally clones and builds, then runs the test
// container. The returned code is the exit code of docker run.
func (tr *TestRunner) Run(ctx context.Context) (int, error) {
	start := time.Now()
	lockName := tr.cfg.Docker.Repo
	if tr.cfg.General.LockRuns {
		if err := pidlock.CheckAndCreatePidFile(lockName, "run"); err != nil {
			return 0, err
		}
		defer pidlock.RemovePidFile(lockName)
	}
	exitCode, err := tr.run(ctx)
	tr.report(ctx, exitCode, err, time.Since(start))
	return exitCode, err
}

func (tr *TestRunner) run(ctx context.Context) (int, error) {
	creds, err := tr.Credentials(ctx, tr.cfg.DS3.VerifyCredentials)
	if err != nil {
		return 0, err
	}
	vars := BuildEnvironment(tr.cfg, creds)
	if err = ExportEnvironment(vars); err != nil {
		return 0, err
	}
	for _, v := range vars {
		fmt.Fprintf(tr.out, "%s %s\n", v.Name, displayValue(v, false))
	}

	data := NewCommandData(tr.cfg, vars)
	if tr.cfg.Git.Clone {
		if err = tr.step(ctx, "git clone", CloneCommand, data); err != nil {
			return 0, err
		}
	}
	if tr.cfg.Docker.Build {
		if err = tr.step(ctx, "docker build", BuildCommand, data); err != nil {
			return 0, err
		}
	}

	argv, err := RunCommand(tr.cfg, data)
	if err != nil {
		return 0, err
	}
	fmt.Fprintln(tr.out, strings.Join(argv, " "))
	result, err := tr.executor.Execute(ctx, argv)
	if err != nil {
		return 0, err
	}
	fmt.Fprint(tr.out, result.Output)
	fmt.Fprintf(tr.out, "docker status[%d]\n", result.ExitCode)
	log.Info().Str("image", tr.cfg.Docker.Repo).Int("exitCode", result.ExitCode).Msg("docker run finished")
	return result.ExitCode, nil
}

func (tr *TestRunner) step(ctx context.Context, name string, render func(*config.Config, CommandData) ([]string, error), data CommandData) error {
	argv, err := render(tr.cfg, data)
	if err != nil {
		return err
	}
	fmt.Fprintln(tr.out, strings.Join(argv, " "))
	result, err := tr.executor.Execute(ctx, argv)
	if err != nil {
		return err
	}
	fmt.Fprint(tr.out, result.Output)
	if !result.Success() {
		return errors.Wrapf(ErrStepFailed, "%s exited with code %d", name, result.ExitCode)
	}
	log.Debug().Str("step", name).Msg("done")
	return nil
}

func (tr *TestRunner) report(ctx context.Context, exitCode int, runErr error, duration time.Duration) {
	r := Report{
		Operation: "run",
		Image:     tr.cfg.Docker.Repo,
		Status:    "success",
		ExitCode:  exitCode,
		Duration:  duration.Round(time.Millisecond).String(),
	}
	switch {
	case runErr != nil:
		r.Status = "error"
		r.Error = runErr.Error()
	case exitCode != 0:
		r.Status = "failed"
	}
	for _, err := range tr.callback(ctx, r) {
		log.Warn().Err(err).Msg("callback failed")
	}
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
