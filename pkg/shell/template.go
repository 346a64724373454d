package shell

import (
	"bytes"
	"text/template"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// ApplyCommandTemplate renders command with templateData and splits the result into argv like a shell would
func ApplyCommandTemplate(command string, templateData interface{}) ([]string, error) {
	var b bytes.Buffer
	tpl, err := template.New("").Option("missingkey=error").Parse(command)
	if err != nil {
		return nil, errors.Wrapf(err, "can't parse command template %q", command)
	}
	if err = tpl.Execute(&b, templateData); err != nil {
		return nil, errors.Wrapf(err, "can't render command template %q", command)
	}
	return split(b.String())
}

// split parses a literal command line into argv
func split(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, errors.Wrapf(err, "parse shell command %q", command)
	}
	if len(args) == 0 {
		return nil, errors.Errorf("empty command %q", command)
	}
	return args, nil
}
