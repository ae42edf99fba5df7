// Command runscript runs a login-or-something automation script against
// stdin/stdout (the modem side of a minicom session), the C6/C11 script
// runner entry point.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xoxyuxu/minicom/internal/scriptvm"
	"github.com/xoxyuxu/minicom/internal/timeoutctl"
)

// Version matches the interactive session's reported version.
const Version = "2.9"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "runscript <scriptfile> [<logfile> [<homedir>]]",
		Short:   "Run a minicom automation script",
		Version: Version,
		Args:    cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			scriptFile := args[0]
			logFile := ""
			homeDir := ""
			if len(args) > 1 {
				logFile = args[1]
			}
			if len(args) > 2 {
				homeDir = args[2]
			}
			return run(scriptFile, logFile, homeDir)
		},
	}
	return cmd
}

func run(scriptFile, logFile, homeDir string) error {
	log := logrus.NewEntry(logrus.StandardLogger())
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logrus.SetOutput(f)
	}

	scrubbed, login, pass := scriptvm.ScrubEnviron(os.Environ())
	lookup := func(key string) (string, bool) {
		for _, kv := range scrubbed {
			if len(kv) > len(key) && kv[:len(key)] == key && kv[len(key)] == '=' {
				return kv[len(key)+1:], true
			}
		}
		return "", false
	}

	timeouts := timeoutctl.New(scriptvm.DefaultGlobalTimeout)
	defer timeouts.Stop()

	modem := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	vm := scriptvm.New(&scriptvm.Env{Login: login, Pass: pass, Lookup: lookup}, modem, os.Stderr, timeouts)

	if homeDir != "" {
		if err := os.Chdir(homeDir); err != nil {
			return fmt.Errorf("chdir %s: %w", homeDir, err)
		}
	}

	log.WithFields(logrus.Fields{"script": scriptFile, "login": vm.Getenv("LOGIN")}).Info("running script")

	// A real build hands vm to an embedded script interpreter here, which
	// calls its getenv/expect/send/print/flush/timeout/verbose/pipedshell
	// builtins against vm for the duration of scriptFile; the interpreter
	// itself is out of scope.
	select {
	case err := <-timeouts.Global():
		log.WithError(err).Error(fmt.Sprintf("script %q: global timeout", scriptFile))
		os.Exit(1)
	default:
	}

	return nil
}
