package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/CGaul/cloud-federation/pkg/config"
	"github.com/sirupsen/logrus"
)

const (
	programName    = "cloud-federation"
	programVersion = "0.1.0"

	exitOK         = 0
	exitFailure    = 1
	exitUsageError = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and maps the outcome to an exit status
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	logrus.SetOutput(stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cmd := newRootCommand(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var argErr *config.ArgumentParseError
	if errors.As(err, &argErr) {
		logrus.Error(err)
		return exitUsageError
	}

	logrus.Errorf("%s failed: %v", programName, err)
	return exitFailure
}
