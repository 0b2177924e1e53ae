package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/thankful-ai/asyncnode/internal/asyncnode"
	"golang.org/x/exp/slog"
)

// engine drives the provisioning engine with the inline program. The stack
// config is written before every operation, so the inline program and
// `pulumi up` from the repository read the same values.
type engine struct {
	log      *slog.Logger
	stack    auto.Stack
	progress io.Writer
}

func newEngine(
	ctx context.Context,
	log *slog.Logger,
	conf asyncnode.Config,
	progress io.Writer,
) (*engine, error) {
	program := asyncnode.ProgramFromConfig(log)
	stack, err := auto.UpsertStackInlineSource(ctx, conf.Stack,
		conf.Project, program)
	if err != nil {
		return nil, fmt.Errorf("upsert stack: %w", err)
	}

	log.Debug("installing plugin",
		slog.String("version", conf.AWSPluginVersion))
	err = stack.Workspace().InstallPlugin(ctx, "aws", conf.AWSPluginVersion)
	if err != nil {
		return nil, fmt.Errorf("install plugin: %w", err)
	}

	err = stack.SetAllConfig(ctx, stackConfig(conf))
	if err != nil {
		return nil, fmt.Errorf("set all config: %w", err)
	}
	return &engine{log: log, stack: stack, progress: progress}, nil
}

func stackConfig(conf asyncnode.Config) auto.ConfigMap {
	cm := auto.ConfigMap{
		"aws:region": auto.ConfigValue{Value: conf.Region},
	}
	for k, v := range conf.StackConfig.Map() {
		cm[k] = auto.ConfigValue{Value: v}
	}
	return cm
}

func (e *engine) preview(ctx context.Context) (map[string]int, error) {
	e.log.Info("previewing")

	res, err := e.stack.Preview(ctx,
		optpreview.ProgressStreams(e.progress))
	if err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	summary := make(map[string]int, len(res.ChangeSummary))
	for op, n := range res.ChangeSummary {
		summary[string(op)] = n
	}
	return summary, nil
}

func (e *engine) up(ctx context.Context) (asyncnode.Outputs, error) {
	e.log.Info("updating")

	res, err := e.stack.Up(ctx, optup.ProgressStreams(e.progress))
	if err != nil {
		return nil, fmt.Errorf("up: %w", err)
	}
	e.log.Info("updated", slog.String("result", res.Summary.Result))
	return outputsFromEngine(res.Outputs), nil
}

func (e *engine) destroy(ctx context.Context) error {
	e.log.Info("destroying")

	res, err := e.stack.Destroy(ctx,
		optdestroy.ProgressStreams(e.progress))
	if err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	e.log.Info("destroyed", slog.String("result", res.Summary.Result))
	return nil
}

func (e *engine) outputs(ctx context.Context) (asyncnode.Outputs, error) {
	om, err := e.stack.Outputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}
	return outputsFromEngine(om), nil
}

func outputsFromEngine(om auto.OutputMap) asyncnode.Outputs {
	out := make(asyncnode.Outputs, len(om))
	for k, v := range om {
		s, ok := v.Value.(string)
		if !ok {
			s = fmt.Sprint(v.Value)
		}
		out[k] = s
	}
	return out
}
