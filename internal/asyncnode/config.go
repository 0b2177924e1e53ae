package asyncnode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
	"golang.org/x/exp/slog"
)

const (
	ConfigName = "asyncnode.json"

	// ConfigNamespace is the Pulumi stack config namespace holding
	// StackConfig values.
	ConfigNamespace = "asyncnode"

	// ResourcePrefix is prepended to every shared resource name.
	ResourcePrefix = "async-node"
)

type LogFormat string

const (
	LogFormatDefault LogFormat = ""
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

type LogLevel string

const (
	LogLevelDefault LogLevel = ""
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
)

// Config for the asyncnode CLI.
type Config struct {
	Log LogConfig `json:"log,omitempty"`

	// Project and Stack name the Pulumi project and stack driven by the
	// CLI.
	Project string `json:"project"`
	Stack   string `json:"stack"`

	// Region to provision into, written to the stack as aws:region.
	Region string `json:"region"`

	// AWSPluginVersion to install before running the inline program.
	AWSPluginVersion string `json:"awsPluginVersion,omitempty"`

	// Store is an optional bucket which receives a snapshot of the
	// outputs after every successful up.
	Store string `json:"store,omitempty"`

	// CredentialsFile for the store. Default credentials are used when
	// empty.
	CredentialsFile string `json:"credentialsFile,omitempty"`

	// Health configures the check and watch commands.
	Health HealthConfig `json:"health,omitempty"`

	StackConfig StackConfig `json:"stackConfig"`
}

type LogConfig struct {
	Format LogFormat `json:"format,omitempty"`
	Level  LogLevel  `json:"level,omitempty"`
}

type HealthConfig struct {
	// DialTimeout per port, e.g. "3s".
	DialTimeout Duration `json:"dialTimeout,omitempty"`

	// Interval between checks in watch mode, e.g. "30s".
	Interval Duration `json:"interval,omitempty"`
}

// Duration unmarshals from a string such as "10s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(byt []byte) error {
	var s string
	if err := json.Unmarshal(byt, &s); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// StackConfig holds everything the resource graph needs. It is read from the
// Pulumi stack config, which the CLI populates from Config.StackConfig.
type StackConfig struct {
	PublicKeyPath  string `json:"publicKeyPath"`
	InstanceType   string `json:"instanceType,omitempty"`
	Repository     string `json:"repository,omitempty"`
	ComposeVersion string `json:"composeVersion,omitempty"`
	VPCCIDR        string `json:"vpcCidr,omitempty"`
	SubnetCIDR     string `json:"subnetCidr,omitempty"`

	Image ImageFilter `json:"-"`
}

const (
	defaultPublicKeyPath  = "/root/code/id_rsa.pub"
	defaultInstanceType   = "t2.micro"
	defaultRepository     = "https://github.com/MD-Junayed000/Asynchronous-Task-Processing-implemented-in-Node.js-for-Multi-EC2.git"
	defaultComposeVersion = "v2.24.5"
	defaultVPCCIDR        = "10.0.0.0/16"
	defaultSubnetCIDR     = "10.0.1.0/24"
	defaultAWSPlugin      = "v6.37.1"
	defaultDialTimeout    = 3 * time.Second
	defaultInterval       = 30 * time.Second
)

// Canonical Ubuntu 22.04 images.
var defaultImage = ImageFilter{
	Owners:      []string{"099720109477"},
	NamePattern: "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*",
}

// WithDefaults fills every empty field.
func (c StackConfig) WithDefaults() StackConfig {
	set := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	set(&c.PublicKeyPath, defaultPublicKeyPath)
	set(&c.InstanceType, defaultInstanceType)
	set(&c.Repository, defaultRepository)
	set(&c.ComposeVersion, defaultComposeVersion)
	set(&c.VPCCIDR, defaultVPCCIDR)
	set(&c.SubnetCIDR, defaultSubnetCIDR)
	if len(c.Image.Owners) == 0 {
		c.Image.Owners = defaultImage.Owners
	}
	set(&c.Image.NamePattern, defaultImage.NamePattern)
	return c
}

// ScriptOpts derives the bootstrap script parameters.
func (c StackConfig) ScriptOpts() ScriptOpts {
	return ScriptOpts{
		Repository:     c.Repository,
		ComposeVersion: c.ComposeVersion,
	}
}

// Map returns the stack config as flat Pulumi config keys in the asyncnode
// namespace, omitting empty values.
func (c StackConfig) Map() map[string]string {
	out := map[string]string{}
	add := func(k, v string) {
		if v != "" {
			out[ConfigNamespace+":"+k] = v
		}
	}
	add("publicKeyPath", c.PublicKeyPath)
	add("instanceType", c.InstanceType)
	add("repository", c.Repository)
	add("composeVersion", c.ComposeVersion)
	add("vpcCidr", c.VPCCIDR)
	add("subnetCidr", c.SubnetCIDR)
	return out
}

// StackConfigFromPulumi reads the asyncnode namespace of the current stack.
func StackConfigFromPulumi(ctx *pulumi.Context) StackConfig {
	cfg := config.New(ctx, ConfigNamespace)
	c := StackConfig{
		PublicKeyPath:  cfg.Get("publicKeyPath"),
		InstanceType:   cfg.Get("instanceType"),
		Repository:     cfg.Get("repository"),
		ComposeVersion: cfg.Get("composeVersion"),
		VPCCIDR:        cfg.Get("vpcCidr"),
		SubnetCIDR:     cfg.Get("subnetCidr"),
	}
	return c.WithDefaults()
}

// RepoDir is the directory created by cloning the repository.
func RepoDir(repository string) string {
	return strings.TrimSuffix(path.Base(repository), ".git")
}

func ParseConfig(configPath string) (Config, error) {
	var conf Config
	byt, err := os.ReadFile(configPath)
	if err != nil {
		return conf, fmt.Errorf("read file: %w", err)
	}
	if err := json.Unmarshal(byt, &conf); err != nil {
		return conf, fmt.Errorf("unmarshal: %w", err)
	}
	if err := conf.validate(); err != nil {
		return conf, fmt.Errorf("validate: %w", err)
	}
	return conf.withDefaults(), nil
}

func (c Config) validate() error {
	if c.Project == "" {
		return errors.New("missing project")
	}
	if c.Stack == "" {
		return errors.New("missing stack")
	}
	if c.Region == "" {
		return errors.New("missing region")
	}
	switch c.Log.Format {
	case LogFormatDefault, LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log format: %s", c.Log.Format)
	}
	switch c.Log.Level {
	case LogLevelDefault, LogLevelDebug, LogLevelInfo:
	default:
		return fmt.Errorf("unknown log level: %s", c.Log.Level)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.AWSPluginVersion == "" {
		c.AWSPluginVersion = defaultAWSPlugin
	}
	if c.Health.DialTimeout == 0 {
		c.Health.DialTimeout = Duration(defaultDialTimeout)
	}
	if c.Health.Interval == 0 {
		c.Health.Interval = Duration(defaultInterval)
	}
	c.StackConfig = c.StackConfig.WithDefaults()
	return c
}

// NewLogger builds the logger described by the log config.
func NewLogger(w io.Writer, conf LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if conf.Level == LogLevelDebug {
		opts.Level = slog.LevelDebug
	}
	if conf.Format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		// Remove time from the output.
		if a.Key == slog.TimeKey && len(groups) == 0 {
			return slog.Attr{}
		}
		return a
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
