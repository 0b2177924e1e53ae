// Command stack is the program run by `pulumi up` from the repository root.
package main

import (
	"os"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/thankful-ai/asyncnode/internal/asyncnode"
)

// logLevelEnv selects the program's log level, since `pulumi up` passes no
// flags through.
const logLevelEnv = "ASYNCNODE_LOG_LEVEL"

func main() {
	log := asyncnode.NewLogger(os.Stderr, logConfig(os.Getenv))
	pulumi.Run(asyncnode.ProgramFromConfig(log))
}

// logConfig is console output at info, or debug when the environment asks for
// it. Unknown levels fall back to info.
func logConfig(getenv func(string) string) asyncnode.LogConfig {
	conf := asyncnode.LogConfig{
		Format: asyncnode.LogFormatConsole,
		Level:  asyncnode.LogLevelInfo,
	}
	if asyncnode.LogLevel(getenv(logLevelEnv)) == asyncnode.LogLevelDebug {
		conf.Level = asyncnode.LogLevelDebug
	}
	return conf
}
