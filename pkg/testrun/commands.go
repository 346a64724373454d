package testrun

import (
	"github.com/SpectraLogic/ds3-docker-runner/pkg/config"
	"github.com/SpectraLogic/ds3-docker-runner/pkg/shell"
)

// CommandData is available to git.clone_command, docker.build_command and docker.run_command
type CommandData struct {
	Docker      string
	DockerRepo  string
	BuildPath   string
	DNS         string
	Interactive bool
	EnvNames    []string
	GitRepo     string
	GitBranch   string
	CloneDir    string
}

func NewCommandData(cfg *config.Config, vars []EnvVar) CommandData {
	return CommandData{
		Docker:      cfg.Docker.Binary,
		DockerRepo:  cfg.Docker.Repo,
		BuildPath:   cfg.Docker.BuildPath,
		DNS:         cfg.Docker.DNS,
		Interactive: cfg.Docker.Interactive,
		EnvNames:    EnvNames(vars),
		GitRepo:     cfg.Git.Repo,
		GitBranch:   cfg.Git.Branch,
		CloneDir:    cfg.Git.CloneDir,
	}
}

func CloneCommand(cfg *config.Config, data CommandData) ([]string, error) {
	return shell.ApplyCommandTemplate(cfg.Git.CloneCommand, data)
}

func BuildCommand(cfg *config.Config, data CommandData) ([]string, error) {
	return shell.ApplyCommandTemplate(cfg.Docker.BuildCommand, data)
}

func RunCommand(cfg *config.Config, data CommandData) ([]string, error) {
	return shell.ApplyCommandTemplate(cfg.Docker.RunCommand, data)
}
