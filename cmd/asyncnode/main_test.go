package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/thankful-ai/asyncnode/internal/asyncnode"
	"golang.org/x/exp/slog"
)

func TestParseArg(t *testing.T) {
	t.Parallel()

	type testcase struct {
		args     []string
		wantHead string
		wantTail []string
	}
	tcs := []testcase{
		{args: nil},
		{args: []string{"up"}, wantHead: "up"},
		{
			args:     []string{"script", "api", "10.0.0.1", "10.0.0.2"},
			wantHead: "script",
			wantTail: []string{"api", "10.0.0.1", "10.0.0.2"},
		},
	}
	for _, tc := range tcs {
		head, tail := parseArg(tc.args)
		if head != tc.wantHead {
			t.Fatalf("want head %q, got %q", tc.wantHead, head)
		}
		if diff := cmp.Diff(tc.wantTail, tail); diff != "" {
			t.Fatalf("tail mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestOutputsFromEngine(t *testing.T) {
	t.Parallel()

	got := outputsFromEngine(auto.OutputMap{
		asyncnode.OutputAPI:   {Value: "203.0.113.3"},
		asyncnode.OutputRedis: {Value: "203.0.113.2", Secret: true},
		"count":               {Value: float64(6)},
	})
	want := asyncnode.Outputs{
		asyncnode.OutputAPI:   "203.0.113.3",
		asyncnode.OutputRedis: "203.0.113.2",
		"count":               "6",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestStackConfig(t *testing.T) {
	t.Parallel()

	conf := asyncnode.Config{
		Region: "eu-west-1",
		StackConfig: asyncnode.StackConfig{
			PublicKeyPath: "/keys/id.pub",
			InstanceType:  "t3.small",
		},
	}
	want := auto.ConfigMap{
		"aws:region":              {Value: "eu-west-1"},
		"asyncnode:publicKeyPath": {Value: "/keys/id.pub"},
		"asyncnode:instanceType":  {Value: "t3.small"},
	}
	if diff := cmp.Diff(want, stackConfig(conf)); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestPrintJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := printJSON(&buf, asyncnode.Outputs{asyncnode.OutputAPI: "203.0.113.3"})
	if err != nil {
		t.Fatal(err)
	}
	const want = "{\n\t\"API Public IP\": \"203.0.113.3\"\n}\n"
	if buf.String() != want {
		t.Fatalf("want %q, got %q", want, buf.String())
	}
}

func TestArgErrors(t *testing.T) {
	t.Parallel()

	if !errors.Is(emptyArgError(""), emptyArgError("")) {
		t.Fatal("want empty arg error")
	}
	if got := emptyArgError("script $ROLE").Error(); got != "usage: asyncnode script $ROLE" {
		t.Fatalf("bad message: %s", got)
	}
	if got := badArgError("deploy").Error(); got != "unknown argument: deploy" {
		t.Fatalf("bad message: %s", got)
	}
}

func TestLogOutputs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	logOutputs(log, asyncnode.Outputs{
		asyncnode.OutputWorker1: "203.0.113.4",
		asyncnode.OutputAPI:     "203.0.113.3",
		asyncnode.OutputRedis:   "203.0.113.2",
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		`name="API Public IP" addr=203.0.113.3`,
		`name="Redis Public IP" addr=203.0.113.2`,
		`name="Worker1 IP" addr=203.0.113.4`,
	}
	if len(lines) != len(want) {
		t.Fatalf("want %d lines, got %q", len(want), lines)
	}
	for i, w := range want {
		if !strings.HasSuffix(lines[i], w) {
			t.Fatalf("line %d: want suffix %q, got %q", i, w,
				lines[i])
		}
	}
}
