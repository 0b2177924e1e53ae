package asyncnode

import (
	_ "embed"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"text/template"
)

// Placeholders in the compose file which dependent machines replace with the
// public addresses of their peers.
const (
	PlaceholderRabbitMQ = "<RABBITMQ_IP>"
	PlaceholderRedis    = "<REDIS_IP>"
)

const (
	scriptUser        = "ubuntu"
	scriptHome        = "/home/ubuntu"
	scriptDelay       = 20
	scriptComposeFile = "docker-compose.yml"
	scriptLogPath     = "/home/ubuntu/startup.log"
)

//go:embed script.sh.tmpl
var scriptTemplate string

var scriptTmpl = template.Must(template.New("script").Parse(scriptTemplate))

// ScriptOpts are the parts of the bootstrap script shared by every machine.
type ScriptOpts struct {
	// Repository cloned on boot, which holds the compose file.
	Repository string

	// ComposeVersion of the docker-compose release to install.
	ComposeVersion string
}

type substitution struct {
	Pattern string
	Value   string
}

type scriptData struct {
	User           string
	Home           string
	Delay          int
	ComposeVersion string
	Repository     string
	RepoDir        string
	ComposeFile    string
	LogPath        string
	Role           Role
	Profiles       string
	Substitutions  []substitution
}

// Profiles returns the compose profile flags for a role. Dependent roles also
// build the broker and cache profiles so their images and networks exist
// locally.
func Profiles(r Role) string {
	if r.Dependent() {
		return fmt.Sprintf("--profile %s --profile %s --profile %s",
			RoleRabbitMQ, RoleRedis, r)
	}
	return fmt.Sprintf("--profile %s", r)
}

// sedPattern matches the placeholder literally without the script containing
// the placeholder itself, so a rendered script can always be checked for
// leftover tokens.
func sedPattern(placeholder string) string {
	return strings.NewReplacer("<", "[<]", ">", "[>]").Replace(placeholder)
}

// RenderScript for a machine of the given role. Independent roles ignore the
// peer addresses and skip substitution entirely. Dependent roles require both
// to be valid IP addresses.
func RenderScript(
	opts ScriptOpts,
	role Role,
	rabbitmqIP, redisIP string,
) (string, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return "", fmt.Errorf("parse role: %w", err)
	}
	if opts.Repository == "" {
		return "", errors.New("missing repository")
	}
	if opts.ComposeVersion == "" {
		return "", errors.New("missing compose version")
	}

	data := scriptData{
		User:           scriptUser,
		Home:           scriptHome,
		Delay:          scriptDelay,
		ComposeVersion: opts.ComposeVersion,
		Repository:     opts.Repository,
		RepoDir:        RepoDir(opts.Repository),
		ComposeFile:    scriptComposeFile,
		LogPath:        scriptLogPath,
		Role:           role,
		Profiles:       Profiles(role),
	}
	if role.Dependent() {
		peers := []struct {
			placeholder string
			addr        string
		}{
			{PlaceholderRabbitMQ, rabbitmqIP},
			{PlaceholderRedis, redisIP},
		}
		for _, p := range peers {
			addr, err := netip.ParseAddr(p.addr)
			if err != nil {
				return "", fmt.Errorf("%w: %s for %s: %q",
					MissingPeerAddr, p.placeholder, role, p.addr)
			}
			data.Substitutions = append(data.Substitutions,
				substitution{
					Pattern: sedPattern(p.placeholder),
					Value:   addr.String(),
				})
		}
	}

	var b strings.Builder
	if err := scriptTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	return b.String(), nil
}
