package asyncnode

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

var testScriptOpts = StackConfig{}.WithDefaults().ScriptOpts()

func TestRenderScriptIndependent(t *testing.T) {
	t.Parallel()

	for _, role := range []Role{RoleRabbitMQ, RoleRedis} {
		role := role // capture reference
		t.Run(string(role), func(t *testing.T) {
			t.Parallel()

			script, err := RenderScript(testScriptOpts, role, "", "")
			check(t, err)

			for _, tok := range []string{
				PlaceholderRabbitMQ,
				PlaceholderRedis,
			} {
				if strings.Contains(script, tok) {
					t.Fatalf("script contains %s:\n%s", tok,
						script)
				}
			}
			if strings.Contains(script, "sed -i") {
				t.Fatalf("unexpected substitution:\n%s", script)
			}
			want := fmt.Sprintf(
				"docker-compose --profile %s --profile %s build",
				role, role)
			if !strings.Contains(script, want) {
				t.Fatalf("missing %q:\n%s", want, script)
			}
		})
	}
}

func TestRenderScriptIgnoresPeersForIndependentRoles(t *testing.T) {
	t.Parallel()

	with, err := RenderScript(testScriptOpts, RoleRedis, "10.0.0.1",
		"10.0.0.2")
	check(t, err)
	without, err := RenderScript(testScriptOpts, RoleRedis, "", "")
	check(t, err)
	if with != without {
		t.Fatalf("peer addresses changed script:\n%s\n---\n%s", with,
			without)
	}
}

func TestRenderScriptDependent(t *testing.T) {
	t.Parallel()

	const (
		rabbitmqIP = "203.0.113.10"
		redisIP    = "203.0.113.11"
	)
	for _, role := range []Role{RoleAPI, RoleWorker, RoleRedisUI} {
		role := role // capture reference
		t.Run(string(role), func(t *testing.T) {
			t.Parallel()

			script, err := RenderScript(testScriptOpts, role,
				rabbitmqIP, redisIP)
			check(t, err)

			wantLines := []string{
				"sed -i 's|[<]RABBITMQ_IP[>]|203.0.113.10|g' docker-compose.yml",
				"sed -i 's|[<]REDIS_IP[>]|203.0.113.11|g' docker-compose.yml",
				fmt.Sprintf(`echo "==== STARTUP LOG for %s ====" >> /home/ubuntu/startup.log`, role),
				fmt.Sprintf("docker-compose --profile rabbitmq --profile redis --profile %s --profile %s build >> /home/ubuntu/startup.log 2>&1", role, role),
				fmt.Sprintf("docker-compose --profile rabbitmq --profile redis --profile %s --profile %s up -d >> /home/ubuntu/startup.log 2>&1", role, role),
			}
			lines := strings.Split(script, "\n")
			for _, want := range wantLines {
				if !containsLine(lines, want) {
					t.Fatalf("missing line %q:\n%s", want,
						script)
				}
			}
			for _, tok := range []string{
				PlaceholderRabbitMQ,
				PlaceholderRedis,
			} {
				if strings.Contains(script, tok) {
					t.Fatalf("script contains %s", tok)
				}
			}
		})
	}
}

func TestRenderScriptStructure(t *testing.T) {
	t.Parallel()

	script, err := RenderScript(testScriptOpts, RoleWorker, "192.0.2.1",
		"192.0.2.2")
	check(t, err)

	// Order matters: the runtime must exist before the clone, and the
	// compose file must be patched before anything is built.
	ordered := []string{
		"#!/bin/bash",
		"export DEBIAN_FRONTEND=noninteractive",
		"apt update -y",
		"apt install -y docker.io git curl",
		"systemctl start docker",
		"usermod -aG docker ubuntu",
		"sleep 20",
		"curl -L https://github.com/docker/compose/releases/download/v2.24.5/docker-compose-$(uname -s)-$(uname -m) -o /usr/local/bin/docker-compose",
		"chmod +x /usr/local/bin/docker-compose",
		"cd /home/ubuntu",
		"git clone https://github.com/MD-Junayed000/Asynchronous-Task-Processing-implemented-in-Node.js-for-Multi-EC2.git",
		"cd Asynchronous-Task-Processing-implemented-in-Node.js-for-Multi-EC2",
		"sed -i 's|[<]RABBITMQ_IP[>]|192.0.2.1|g' docker-compose.yml",
		"sed -i 's|[<]REDIS_IP[>]|192.0.2.2|g' docker-compose.yml",
		`echo "==== STARTUP LOG for worker ====" >> /home/ubuntu/startup.log`,
	}
	lines := strings.Split(strings.TrimSuffix(script, "\n"), "\n")
	if len(lines) != len(ordered)+2 {
		t.Fatalf("want %d lines, got %d:\n%s", len(ordered)+2,
			len(lines), script)
	}
	for i, want := range ordered {
		if lines[i] != want {
			t.Fatalf("line %d: want %q, got %q", i+1, want, lines[i])
		}
	}
}

func TestRenderScriptErrors(t *testing.T) {
	t.Parallel()

	type testcase struct {
		name    string
		opts    ScriptOpts
		role    Role
		rabbit  string
		redis   string
		wantErr error
	}
	tcs := []testcase{{
		name:    "unknown role",
		opts:    testScriptOpts,
		role:    "postgres",
		wantErr: UnknownRole,
	}, {
		name:    "dependent without peers",
		opts:    testScriptOpts,
		role:    RoleAPI,
		wantErr: MissingPeerAddr,
	}, {
		name:    "dependent with one peer",
		opts:    testScriptOpts,
		role:    RoleWorker,
		rabbit:  "203.0.113.10",
		wantErr: MissingPeerAddr,
	}, {
		name:    "dependent with bad peer",
		opts:    testScriptOpts,
		role:    RoleRedisUI,
		rabbit:  "203.0.113.10",
		redis:   "not-an-ip",
		wantErr: MissingPeerAddr,
	}, {
		name: "missing repository",
		opts: ScriptOpts{ComposeVersion: "v2.24.5"},
		role: RoleRedis,
	}}
	for _, tc := range tcs {
		tc := tc // capture reference
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := RenderScript(tc.opts, tc.role, tc.rabbit,
				tc.redis)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestProfiles(t *testing.T) {
	t.Parallel()

	tcs := map[Role]string{
		RoleRabbitMQ: "--profile rabbitmq",
		RoleRedis:    "--profile redis",
		RoleAPI:      "--profile rabbitmq --profile redis --profile api",
		RoleWorker:   "--profile rabbitmq --profile redis --profile worker",
		RoleRedisUI:  "--profile rabbitmq --profile redis --profile redisui",
	}
	for role, want := range tcs {
		if got := Profiles(role); got != want {
			t.Fatalf("%s: want %q, got %q", role, want, got)
		}
	}
}

func TestRepoDir(t *testing.T) {
	t.Parallel()

	tcs := map[string]string{
		"https://github.com/a/b.git": "b",
		"https://github.com/a/b":     "b",
		"git@github.com:a/c.git":     "c",
	}
	for in, want := range tcs {
		if got := RepoDir(in); got != want {
			t.Fatalf("%s: want %q, got %q", in, want, got)
		}
	}
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
