package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thankful-ai/asyncnode/internal/asyncnode"
	"github.com/thankful-ai/asyncnode/internal/google"
	"golang.org/x/exp/slog"
)

func main() {
	if err := run(); err != nil {
		switch {
		case errors.Is(err, emptyArgError("")):
			usage()
		default:
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
}

type globalOpts struct {
	configPath string
	stack      string
	timeout    time.Duration
	stored     bool
}

func run() error {
	configPath := flag.String("config", asyncnode.ConfigName,
		"config filepath")
	stack := flag.String("stack", "", "stack name, overriding the config")
	timeout := flag.Duration("timeout", 30*time.Minute,
		"timeout for engine operations")
	stored := flag.Bool("stored", false,
		"read outputs from the latest stored snapshot")
	flag.Parse()

	opts := globalOpts{
		configPath: *configPath,
		stack:      *stack,
		timeout:    *timeout,
		stored:     *stored,
	}
	arg, tail := parseArg(flag.Args())
	switch arg {
	case "preview", "up", "destroy":
		if len(tail) > 0 {
			return errors.New("too many arguments")
		}
		return engineCommand(arg, opts)
	case "outputs":
		return outputs(tail, opts)
	case "history":
		return history(tail, opts)
	case "script":
		return script(tail, opts)
	case "check":
		return check(tail, opts)
	case "watch":
		return watch(tail, opts)
	case "version":
		fmt.Println("v0.1.0")
		return nil
	case "", "help":
		return emptyArgError("")
	default:
		return badArgError(arg)
	}
}

// env is everything a command needs after loading the config.
type env struct {
	conf asyncnode.Config
	log  *slog.Logger
}

func loadEnv(opts globalOpts) (env, error) {
	conf, err := asyncnode.ParseConfig(opts.configPath)
	if err != nil {
		return env{}, fmt.Errorf("parse config: %w", err)
	}
	if opts.stack != "" {
		conf.Stack = opts.stack
	}
	log := asyncnode.NewLogger(os.Stderr, conf.Log).With(
		slog.String("project", conf.Project),
		slog.String("stack", conf.Stack))
	return env{conf: conf, log: log}, nil
}

func (e env) store() (asyncnode.OutputStore, error) {
	if e.conf.Store == "" {
		return nil, errors.New("no store configured")
	}
	return google.NewBucket(e.conf.Store, e.conf.CredentialsFile), nil
}

func engineCommand(cmd string, opts globalOpts) error {
	e, err := loadEnv(opts)
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	eng, err := newEngine(ctx, e.log, e.conf, os.Stdout)
	if err != nil {
		return fmt.Errorf("new engine: %w", err)
	}
	switch cmd {
	case "preview":
		summary, err := eng.preview(ctx)
		if err != nil {
			return fmt.Errorf("preview: %w", err)
		}
		return printJSON(os.Stdout, summary)
	case "destroy":
		if err = eng.destroy(ctx); err != nil {
			return fmt.Errorf("destroy: %w", err)
		}
		return nil
	}

	out, err := eng.up(ctx)
	if err != nil {
		return fmt.Errorf("up: %w", err)
	}
	if err = out.Validate(); err != nil {
		return fmt.Errorf("validate outputs: %w", err)
	}
	if err = printJSON(os.Stdout, out); err != nil {
		return fmt.Errorf("print: %w", err)
	}
	logOutputs(e.log, out)
	if e.conf.Store == "" {
		return nil
	}
	store, err := e.store()
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	snap := asyncnode.NewSnapshot(e.conf.Stack, out)
	if err = store.SetOutputs(ctx, snap); err != nil {
		return fmt.Errorf("set outputs: %w", err)
	}
	e.log.Info("stored outputs", slog.String("id", snap.ID))
	return nil
}

// currentOutputs from the engine, or from the store when requested.
func currentOutputs(
	ctx context.Context,
	e env,
	opts globalOpts,
) (asyncnode.Outputs, error) {
	if opts.stored {
		store, err := e.store()
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		snap, err := store.GetOutputs(ctx, e.conf.Stack)
		if errors.Is(err, asyncnode.Missing) {
			return nil, fmt.Errorf("no stored outputs for %s",
				e.conf.Stack)
		}
		if err != nil {
			return nil, fmt.Errorf("get outputs: %w", err)
		}
		return snap.Outputs, nil
	}
	eng, err := newEngine(ctx, e.log, e.conf, io.Discard)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	out, err := eng.outputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}
	return out, nil
}

func outputs(args []string, opts globalOpts) error {
	if len(args) > 0 {
		return errors.New("too many arguments")
	}
	e, err := loadEnv(opts)
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	out, err := currentOutputs(ctx, e, opts)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, out)
}

func history(args []string, opts globalOpts) error {
	if len(args) > 0 {
		return errors.New("too many arguments")
	}
	e, err := loadEnv(opts)
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	store, err := e.store()
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids, err := store.ListSnapshots(ctx, e.conf.Stack)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// script renders a bootstrap script without touching the engine. The config
// file is optional here.
func script(args []string, opts globalOpts) error {
	arg, tail := parseArg(args)
	switch arg {
	case "", "help":
		return emptyArgError("script $ROLE [$RABBITMQ_IP $REDIS_IP]")
	}
	role, err := asyncnode.ParseRole(arg)
	if err != nil {
		return fmt.Errorf("parse role: %w", err)
	}
	var rabbitmqIP, redisIP string
	switch len(tail) {
	case 0:
	case 2:
		rabbitmqIP, redisIP = tail[0], tail[1]
	default:
		return errors.New("want both peer addresses or neither")
	}

	stackConf := asyncnode.StackConfig{}.WithDefaults()
	conf, err := asyncnode.ParseConfig(opts.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("parse config: %w", err)
	default:
		stackConf = conf.StackConfig
	}
	out, err := asyncnode.RenderScript(stackConf.ScriptOpts(), role,
		rabbitmqIP, redisIP)
	if err != nil {
		return fmt.Errorf("render script: %w", err)
	}
	fmt.Print(out)
	return nil
}

func check(args []string, opts globalOpts) error {
	if len(args) > 0 {
		return errors.New("too many arguments")
	}
	e, err := loadEnv(opts)
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	out, err := currentOutputs(ctx, e, opts)
	if err != nil {
		return err
	}
	checker := asyncnode.NewChecker(time.Duration(e.conf.Health.DialTimeout))
	health, err := checker.Check(ctx, e.log, out)
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	if err = printJSON(os.Stdout, health); err != nil {
		return fmt.Errorf("print: %w", err)
	}
	var down []string
	for _, h := range health {
		if !h.Healthy {
			down = append(down, h.Name)
		}
	}
	if len(down) > 0 {
		return fmt.Errorf("unhealthy: %s", strings.Join(down, ", "))
	}
	return nil
}

func watch(args []string, opts globalOpts) error {
	if len(args) > 0 {
		return errors.New("too many arguments")
	}
	e, err := loadEnv(opts)
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	out, err := func() (asyncnode.Outputs, error) {
		ctx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()
		return currentOutputs(ctx, e, opts)
	}()
	if err != nil {
		return err
	}
	w, err := asyncnode.NewWatcher(asyncnode.WatcherOpts{
		Log: e.log,
		Checker: asyncnode.NewChecker(
			time.Duration(e.conf.Health.DialTimeout)),
		Outputs:  out,
		Interval: time.Duration(e.conf.Health.Interval),
	})
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	err = w.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// logOutputs one line per address, in name order.
func logOutputs(log *slog.Logger, out asyncnode.Outputs) {
	for _, k := range out.Keys() {
		log.Info("output", slog.String("name", k),
			slog.String("addr", out[k]))
	}
}

func printJSON(w io.Writer, v any) error {
	byt, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return fmt.Errorf("marshal indent: %w", err)
	}
	_, err = fmt.Fprintln(w, string(byt))
	return err
}

// parseArg splits the arguments into a head and tail.
func parseArg(args []string) (string, []string) {
	switch len(args) {
	case 0:
		return "", nil
	case 1:
		return args[0], nil
	default:
		return args[0], args[1:]
	}
}

type emptyArgError string

func (e emptyArgError) Error() string {
	return fmt.Sprintf("usage: asyncnode %s", string(e))
}

type badArgError string

func (e badArgError) Error() string {
	return fmt.Sprintf("unknown argument: %s", string(e))
}

func usage() {
	fmt.Println(`usage: asyncnode [-config path] [-stack name] [-timeout d] [-stored] COMMAND

commands:
	preview                            show planned changes
	up                                 create or update the stack
	destroy                            tear down the stack
	outputs                            print published addresses
	history                            list stored snapshots
	script ROLE [RABBITMQ_IP REDIS_IP] render a bootstrap script
	check                              check that service ports accept connections
	watch                              keep checking until interrupted
	version`)
}
