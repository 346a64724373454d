package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/template"

	"github.com/SpectraLogic/ds3-docker-runner/pkg/log_helper"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "/etc/ds3-docker-runner/config.yml"
	ConfigPathEnvVar  = "DS3_DOCKER_RUNNER_CONFIG"

	APIStyleS3V = "s3v"
	APIStyleAPI = "api"

	DefaultCloneCommand = "git clone {{.GitRepo}} --branch {{.GitBranch}} --single-branch {{.CloneDir}}"
	DefaultBuildCommand = "{{.Docker}} build -t {{.DockerRepo}} {{.BuildPath}}"
	DefaultRunCommand   = "{{.Docker}} run {{range .EnvNames}}-e {{.}} {{end}}{{if .Interactive}}-it {{end}}{{with .DNS}}--dns={{.}} {{end}}{{.DockerRepo}}"
)

// Config - config file format
type Config struct {
	General    GeneralConfig    `yaml:"general" envconfig:"_"`
	Management ManagementConfig `yaml:"management" envconfig:"_"`
	DS3        DS3Config        `yaml:"ds3" envconfig:"_"`
	Git        GitConfig        `yaml:"git" envconfig:"_"`
	Docker     DockerConfig     `yaml:"docker" envconfig:"_"`
}

// GeneralConfig - general setting section
type GeneralConfig struct {
	LogLevel     string   `yaml:"log_level" envconfig:"LOG_LEVEL"`
	CallbackURLs []string `yaml:"callback_urls" envconfig:"CALLBACK_URLS"`
	LockRuns     bool     `yaml:"lock_runs" envconfig:"LOCK_RUNS"`
}

// ManagementConfig - management API of the appliance, credentials are looked up there
type ManagementConfig struct {
	URL                  string `yaml:"url" envconfig:"MGMT_URL"`
	Username             string `yaml:"username" envconfig:"MGMT_USERNAME"`
	Password             string `yaml:"password" envconfig:"MGMT_PASSWORD"`
	APIStyle             string `yaml:"api_style" envconfig:"MGMT_API_STYLE"`
	UsersPath            string `yaml:"users_path" envconfig:"MGMT_USERS_PATH"`
	KeysPath             string `yaml:"keys_path" envconfig:"MGMT_KEYS_PATH"`
	UserName             string `yaml:"user_name" envconfig:"MGMT_USER_NAME"`
	SkipCertVerification bool   `yaml:"skip_cert_verification" envconfig:"MGMT_SKIP_CERT_VERIFICATION"`
	CAFile               string `yaml:"ca_file" envconfig:"MGMT_CA_FILE"`
}

// DS3Config - S3 compatible data path of the appliance
type DS3Config struct {
	Endpoint                  string `yaml:"endpoint" envconfig:"DS3_ENDPOINT"`
	VerifyCredentials         bool   `yaml:"verify_credentials" envconfig:"DS3_VERIFY_CREDENTIALS"`
	ProbeScheme               string `yaml:"probe_scheme" envconfig:"DS3_PROBE_SCHEME"`
	Region                    string `yaml:"region" envconfig:"DS3_REGION"`
	ProbeSkipCertVerification bool   `yaml:"probe_skip_cert_verification" envconfig:"DS3_PROBE_SKIP_CERT_VERIFICATION"`
}

// GitConfig - SDK sources passed to the test container and optionally cloned locally
type GitConfig struct {
	Enabled      bool   `yaml:"enabled" envconfig:"GIT_ENABLED"`
	Clone        bool   `yaml:"clone" envconfig:"GIT_CLONE"`
	Repo         string `yaml:"repo" envconfig:"GIT_REPO"`
	Branch       string `yaml:"branch" envconfig:"GIT_BRANCH"`
	CloneDir     string `yaml:"clone_dir" envconfig:"GIT_CLONE_DIR"`
	CloneCommand string `yaml:"clone_command" envconfig:"GIT_CLONE_COMMAND"`
}

// DockerConfig - test image build and run
type DockerConfig struct {
	Binary       string `yaml:"binary" envconfig:"DOCKER_BINARY"`
	Repo         string `yaml:"repo" envconfig:"DOCKER_REPO"`
	Build        bool   `yaml:"build" envconfig:"DOCKER_BUILD"`
	BuildPath    string `yaml:"build_path" envconfig:"DOCKER_BUILD_PATH"`
	DNS          string `yaml:"dns" envconfig:"DOCKER_DNS"`
	Interactive  bool   `yaml:"interactive" envconfig:"DOCKER_INTERACTIVE"`
	BuildCommand string `yaml:"build_command" envconfig:"DOCKER_BUILD_COMMAND"`
	RunCommand   string `yaml:"run_command" envconfig:"DOCKER_RUN_COMMAND"`
}

// GetUsersPath - explicit users_path wins over api_style
func (m *ManagementConfig) GetUsersPath() string {
	if m.UsersPath != "" {
		return m.UsersPath
	}
	if m.APIStyle == APIStyleAPI {
		return "/api/users"
	}
	return "/users"
}

// GetKeysPath - explicit keys_path wins over api_style
func (m *ManagementConfig) GetKeysPath() string {
	if m.KeysPath != "" {
		return m.KeysPath
	}
	if m.APIStyle == APIStyleAPI {
		return "/api/ds3/keys"
	}
	return "/s3v/keys"
}

// LoadConfig - load config from file + environment variables
func LoadConfig(configLocation string) (*Config, error) {
	cfg := DefaultConfig()
	configYaml, err := os.ReadFile(configLocation)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("can't open config file: %v", err)
	}
	if err := yaml.Unmarshal(configYaml, &cfg); err != nil {
		return nil, fmt.Errorf("can't parse config file: %v", err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	cfg.Management.URL = strings.TrimRight(strings.TrimSpace(cfg.Management.URL), "/")
	cfg.DS3.Endpoint = strings.TrimSpace(cfg.DS3.Endpoint)
	cfg.Docker.Repo = strings.TrimSpace(cfg.Docker.Repo)

	log_helper.SetLogLevelFromString(cfg.General.LogLevel)

	if err = ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func ValidateConfig(cfg *Config) error {
	mgmtURL, err := url.Parse(cfg.Management.URL)
	if err != nil {
		return fmt.Errorf("invalid management.url %q: %v", cfg.Management.URL, err)
	}
	if mgmtURL.Scheme != "https" || mgmtURL.Host == "" {
		return fmt.Errorf("management.url %q must be an https:// URL", cfg.Management.URL)
	}
	if cfg.Management.APIStyle != APIStyleS3V && cfg.Management.APIStyle != APIStyleAPI {
		return fmt.Errorf("management.api_style must be `%s` or `%s`, got %q", APIStyleS3V, APIStyleAPI, cfg.Management.APIStyle)
	}
	if cfg.Management.UserName == "" {
		return fmt.Errorf("management.user_name must be defined")
	}
	if cfg.DS3.Endpoint == "" {
		return fmt.Errorf("ds3.endpoint must be defined")
	}
	if cfg.DS3.ProbeScheme != "http" && cfg.DS3.ProbeScheme != "https" {
		return fmt.Errorf("ds3.probe_scheme must be `http` or `https`, got %q", cfg.DS3.ProbeScheme)
	}
	if cfg.Docker.Repo == "" {
		return fmt.Errorf("docker.repo must be defined")
	}
	if cfg.Docker.Binary == "" {
		return fmt.Errorf("docker.binary must be defined")
	}
	if (cfg.Git.Enabled || cfg.Git.Clone) && (cfg.Git.Repo == "" || cfg.Git.Branch == "") {
		return fmt.Errorf("git.repo and git.branch must be defined when git is enabled")
	}
	if cfg.Docker.Build && cfg.Docker.BuildPath == "" {
		return fmt.Errorf("docker.build_path must be defined when docker.build is enabled")
	}
	templates := map[string]string{
		"git.clone_command":    cfg.Git.CloneCommand,
		"docker.build_command": cfg.Docker.BuildCommand,
		"docker.run_command":   cfg.Docker.RunCommand,
	}
	for name, command := range templates {
		if strings.TrimSpace(command) == "" {
			return fmt.Errorf("%s must be defined", name)
		}
		if _, err := template.New(name).Parse(command); err != nil {
			return fmt.Errorf("invalid %s: %v", name, err)
		}
	}
	return nil
}

// PrintConfig - print default / current config to stdout
func PrintConfig(ctx *cli.Context) error {
	var cfg *Config
	if ctx == nil {
		cfg = DefaultConfig()
	} else {
		cfg = GetConfigFromCli(ctx)
	}
	yml, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(yml))
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			LockRuns: true,
		},
		Management: ManagementConfig{
			URL:                  "https://sm25-2-mgmt.eng.sldomain.com",
			Username:             "spectra",
			Password:             "spectra",
			APIStyle:             APIStyleS3V,
			UserName:             "Spectra",
			SkipCertVerification: true,
		},
		DS3: DS3Config{
			Endpoint:    "sm25-2.eng.sldomain.com",
			ProbeScheme: "http",
			Region:      "us-east-1",
		},
		Git: GitConfig{
			Repo:         "https://github.com/SpectraLogic/ds3_python_sdk.git",
			Branch:       "3_2_autogen",
			CloneCommand: DefaultCloneCommand,
		},
		Docker: DockerConfig{
			Binary:       "docker",
			Repo:         "denverm80/ds3_python_sdk_test:latest",
			BuildPath:    ".",
			DNS:          "10.1.0.9",
			BuildCommand: DefaultBuildCommand,
			RunCommand:   DefaultRunCommand,
		},
	}
}

func GetConfigFromCli(ctx *cli.Context) *Config {
	if envFile := ctx.GlobalString("env-file"); envFile != "" {
		// godotenv.Load never overrides variables that are already set
		if err := godotenv.Load(envFile); err != nil {
			log.Fatal().Stack().Err(err).Str("envFile", envFile).Msg("can't load env file")
		}
	}
	oldEnvValues := OverrideEnvVars(ctx)
	configPath := GetConfigPath(ctx)
	cfg, err := LoadConfig(configPath)
	if err != nil {
		log.Fatal().Stack().Err(err).Send()
	}
	RestoreEnvVars(oldEnvValues)
	return cfg
}

func GetConfigPath(ctx *cli.Context) string {
	if configPath := ctx.String("config"); configPath != "" && configPath != DefaultConfigPath {
		return configPath
	}
	if configPath := ctx.GlobalString("config"); configPath != "" && configPath != DefaultConfigPath {
		return configPath
	}
	if os.Getenv(ConfigPathEnvVar) != "" {
		return os.Getenv(ConfigPathEnvVar)
	}
	return DefaultConfigPath
}

type oldEnvValues struct {
	OldValue   string
	WasPresent bool
}

// OverrideEnvVars applies `--env KEY=VALUE` flags to the process environment before config load
func OverrideEnvVars(ctx *cli.Context) map[string]oldEnvValues {
	env := ctx.StringSlice("env")
	if len(env) == 0 {
		env = ctx.GlobalStringSlice("env")
	}
	return overrideEnvVars(env)
}

func overrideEnvVars(env []string) map[string]oldEnvValues {
	oldValues := map[string]oldEnvValues{}
	logLevel := "info"
	if os.Getenv("LOG_LEVEL") != "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	for _, v := range env {
		envVariable := strings.SplitN(v, "=", 2)
		if envVariable[0] == "LOG_LEVEL" && len(envVariable) == 2 {
			logLevel = envVariable[1]
		}
	}
	log_helper.SetLogLevelFromString(logLevel)

	for _, v := range env {
		envVariable := strings.SplitN(v, "=", 2)
		if len(envVariable) < 2 {
			envVariable = append(envVariable, "true")
		}
		log.Info().Msgf("override %s", envVariable[0])
		oldValue, wasPresent := os.LookupEnv(envVariable[0])
		if _, exists := oldValues[envVariable[0]]; !exists {
			oldValues[envVariable[0]] = oldEnvValues{
				OldValue:   oldValue,
				WasPresent: wasPresent,
			}
		}
		if err := os.Setenv(envVariable[0], envVariable[1]); err != nil {
			log.Warn().Msgf("can't override %s, error: %v", envVariable[0], err)
		}
	}
	return oldValues
}

func RestoreEnvVars(envVars map[string]oldEnvValues) {
	for name, oldEnv := range envVars {
		if oldEnv.WasPresent {
			if err := os.Setenv(name, oldEnv.OldValue); err != nil {
				log.Warn().Msgf("RestoreEnvVars can't restore %s, error: %v", name, err)
			}
		} else {
			if err := os.Unsetenv(name); err != nil {
				log.Warn().Msgf("RestoreEnvVars can't delete %s, error: %v", name, err)
			}
		}
	}
}
