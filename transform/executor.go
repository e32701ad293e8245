package transform

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/strata/errors"
)

// SelectPlaceholder in a command template expands to the model names.
const SelectPlaceholder = "{select}"

// Builder materializes delegated models.
type Builder interface {
	Build(ctx context.Context, models []string) (BuildResult, error)
}

// BuildResult is the outcome of one build invocation.
type BuildResult struct {
	Models   []string
	Args     []string
	Output   string
	Duration time.Duration
}

// CommandBuilder runs the transform tool as a subprocess.
type CommandBuilder struct {
	template []string
	dir      string
	logger   *zap.SugaredLogger
}

// NewCommandBuilder parses a command template such as
// `dbt build --select {select}`. The placeholder must be a whole word; when
// it is absent the model names are appended.
func NewCommandBuilder(command, dir string, log *zap.SugaredLogger) (*CommandBuilder, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, errors.Wrapf(err, "parse transform command %q", command)
	}
	if len(args) == 0 {
		return nil, errors.New("transform command is empty")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CommandBuilder{template: args, dir: dir, logger: log}, nil
}

// Args expands the template for models.
func (b *CommandBuilder) Args(models []string) []string {
	var out []string
	expanded := false
	for _, a := range b.template {
		if a == SelectPlaceholder {
			out = append(out, models...)
			expanded = true
			continue
		}
		out = append(out, a)
	}
	if !expanded {
		out = append(out, models...)
	}
	return out
}

// Build runs the tool once for all models. Output is returned even on failure.
func (b *CommandBuilder) Build(ctx context.Context, models []string) (BuildResult, error) {
	res := BuildResult{Models: models}
	if len(models) == 0 {
		return res, nil
	}
	res.Args = b.Args(models)

	cmd := exec.CommandContext(ctx, res.Args[0], res.Args[1:]...)
	cmd.Dir = b.dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	b.logger.Infow("Running transform build",
		"command", shellquote.Join(res.Args...),
		"models", len(models),
		"dir", b.dir)

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = strings.TrimSpace(out.String())

	if err != nil {
		return res, errors.WithDetail(
			errors.Wrapf(err, "transform build of %d models failed", len(models)),
			tail(res.Output, 2000),
		)
	}
	b.logger.Debugw("Transform build finished",
		"models", len(models),
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
