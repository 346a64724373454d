package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SpectraLogic/ds3-docker-runner/pkg/config"
	"github.com/SpectraLogic/ds3-docker-runner/pkg/log_helper"
	"github.com/SpectraLogic/ds3-docker-runner/pkg/testrun"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
)

var (
	version   = "unknown"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	log.Logger = log_helper.SetupLogger(os.Stderr)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cliapp := cli.NewApp()
	cliapp.Name = "ds3-docker-runner"
	cliapp.Usage = "Fetch DS3 S3 credentials from a BlackPearl management API and run SDK integration tests in docker"
	cliapp.UsageText = "ds3-docker-runner [-c, --config=<FILE>] [--env=KEY=VALUE] <command> [flags]"
	cliapp.Version = version

	cliapp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  config.DefaultConfigPath,
			Usage:  "Config `FILE` name.",
			EnvVar: config.ConfigPathEnvVar,
		},
		cli.StringSliceFlag{
			Name:   "env, environment-override, env-override",
			Hidden: false,
			Usage:  "override any environment variable via CLI parameter, KEY=VALUE",
		},
		cli.StringFlag{
			Name:  "env-file",
			Usage: "load variables from a dotenv `FILE`, already set variables are kept",
		},
	}
	cliapp.CommandNotFound = func(c *cli.Context, command string) {
		fmt.Printf("Error. Unknown command: '%s'\n\n", command)
		cli.ShowAppHelpAndExit(c, 1)
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Println("Version:\t", c.App.Version)
		fmt.Println("Git Commit:\t", gitCommit)
		fmt.Println("Build Date:\t", buildDate)
	}

	cliapp.Commands = []cli.Command{
		{
			Name:        "run",
			Usage:       "Fetch credentials, export them and run the test container",
			UsageText:   "ds3-docker-runner run [--clone] [--build] [--verify] [--image=<repo:tag>]",
			Description: "Exit code is the exit code of `docker run`",
			Action: func(c *cli.Context) error {
				return runAction(ctx, c)
			},
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "clone",
					Usage: "git clone git.repo before the build",
				},
				cli.BoolFlag{
					Name:  "build",
					Usage: "docker build the image before the run",
				},
				cli.BoolFlag{
					Name:  "verify",
					Usage: "check the fetched key pair with S3 ListBuckets before the run",
				},
				cli.StringFlag{
					Name:  "image, i",
					Usage: "test image, overrides DOCKER_REPO",
				},
			},
		},
		{
			Name:      "credentials",
			Usage:     "Print S3 credentials as shell exports",
			UsageText: "eval $(ds3-docker-runner credentials [--verify])",
			Action: func(c *cli.Context) error {
				cfg := config.GetConfigFromCli(c)
				tr, err := testrun.NewTestRunner(cfg, testrun.WithOutput(c.App.Writer))
				if err != nil {
					return err
				}
				return tr.PrintExports(ctx, c.Bool("verify") || cfg.DS3.VerifyCredentials)
			},
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "verify",
					Usage: "check the fetched key pair with S3 ListBuckets",
				},
			},
		},
		{
			Name:  "default-config",
			Usage: "Print default config",
			Action: func(*cli.Context) error {
				return config.PrintConfig(nil)
			},
		},
		{
			Name:  "print-config",
			Usage: "Print current config merged with environment variables",
			Action: func(c *cli.Context) error {
				return config.PrintConfig(c)
			},
		},
	}
	if err := cliapp.Run(os.Args); err != nil {
		log.Fatal().Stack().Err(err).Send()
	}
}

// runAction turns a non-zero `docker run` exit code into a cli.ExitCoder, so the process exits with it
func runAction(ctx context.Context, c *cli.Context, opts ...testrun.Option) error {
	cfg := config.GetConfigFromCli(c)
	applyRunFlags(c, cfg)
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	tr, err := testrun.NewTestRunner(cfg, append([]testrun.Option{testrun.WithOutput(c.App.Writer)}, opts...)...)
	if err != nil {
		return err
	}
	exitCode, err := tr.Run(ctx)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return cli.NewExitError("", exitCode)
	}
	return nil
}

func applyRunFlags(c *cli.Context, cfg *config.Config) {
	if c.Bool("clone") {
		cfg.Git.Clone = true
		cfg.Git.Enabled = true
	}
	if c.Bool("build") {
		cfg.Docker.Build = true
	}
	if c.Bool("verify") {
		cfg.DS3.VerifyCredentials = true
	}
	if image := c.String("image"); image != "" {
		cfg.Docker.Repo = image
	}
}
