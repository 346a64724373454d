package testrun

import (
	"os"

	"github.com/SpectraLogic/ds3-docker-runner/pkg/config"
	"github.com/SpectraLogic/ds3-docker-runner/pkg/mgmt"
	"github.com/pkg/errors"
)

const (
	EnvEndpoint  = "DS3_ENDPOINT"
	EnvSecretKey = "DS3_SECRET_KEY"
	EnvAccessKey = "DS3_ACCESS_KEY"
	EnvGitRepo   = "GIT_REPO"
	EnvGitBranch = "GIT_BRANCH"
)

// EnvVar - single variable exported for the test container
type EnvVar struct {
	Name  string
	Value string
}

// BuildEnvironment lists the variables passed into the container, in `-e` order
func BuildEnvironment(cfg *config.Config, creds *mgmt.Credentials) []EnvVar {
	vars := []EnvVar{
		{Name: EnvEndpoint, Value: cfg.DS3.Endpoint},
		{Name: EnvSecretKey, Value: creds.Key.SecretKey},
		{Name: EnvAccessKey, Value: creds.Key.AuthID},
	}
	if cfg.Git.Enabled {
		vars = append(vars,
			EnvVar{Name: EnvGitRepo, Value: cfg.Git.Repo},
			EnvVar{Name: EnvGitBranch, Value: cfg.Git.Branch},
		)
	}
	return vars
}

// ExportEnvironment writes vars into the process environment, children inherit them
func ExportEnvironment(vars []EnvVar) error {
	for _, v := range vars {
		if err := os.Setenv(v.Name, v.Value); err != nil {
			return errors.Wrapf(err, "can't export %s", v.Name)
		}
	}
	return nil
}

func EnvNames(vars []EnvVar) []string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	return names
}

func displayValue(v EnvVar, showSecrets bool) string {
	if v.Name == EnvSecretKey && !showSecrets {
		return "******"
	}
	return v.Value
}
