// Command guest lets an unauthenticated student work on an assignment from its access code,
// then turn the work into a student account.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/guest"
	logsvc "github.com/writeonenglish/woe/services/logger"
	"github.com/writeonenglish/woe/services/woeapi"
	"github.com/writeonenglish/woe/storage/kv/filekv"
	"github.com/writeonenglish/woe/storage/kv/rediskv"
)

const redisPrefix = "woe:guest:"

type options struct {
	storeFile string
	redisAddr string
	apiURL    string
}

// parseOptions reads the global flags; the remaining args are the command.
func parseOptions(conf *core.Config, args []string, out io.Writer) (options, []string, error) {
	fs := flag.NewFlagSet("guest", flag.ContinueOnError)
	fs.SetOutput(out)
	opts := options{}
	fs.StringVar(&opts.storeFile, "store", conf.Guest.StoreFile, "The file keeping guest sessions.")
	fs.StringVar(&opts.redisAddr, "redis", conf.Guest.RedisAddr, "Keep guest sessions in redis at this address instead.")
	fs.StringVar(&opts.apiURL, "api", conf.Guest.APIBaseURL, "The Write on English API base URL.")
	if err := fs.Parse(args); err != nil {
		return opts, nil, errHelp
	}
	return opts, fs.Args(), nil
}

func openStorage(ctx context.Context, conf *core.Config, opts options, logger core.Logger) (guest.Storage, error) {
	if opts.redisAddr != "" {
		return rediskv.Open(ctx, rediskv.Options{Addr: opts.redisAddr, DB: conf.Guest.RedisDB, Prefix: redisPrefix})
	}
	return filekv.Open(opts.storeFile, logger)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(stderr, "GUEST : ", log.LstdFlags), conf)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validate, translator := core.NewValidator()
	cli := &commandLine{validate: validate, translator: translator, out: stdout}

	opts, cmdArgs, err := parseOptions(conf, args, stderr)
	if err != nil {
		return exitCode(err)
	}
	if len(cmdArgs) == 0 {
		cli.out = stderr
		return exitCode(cli.run(ctx, cmdArgs))
	}

	storage, err := openStorage(ctx, conf, opts, logger)
	if err != nil {
		cli.printError(stderr, errors.Wrap(err, "opening guest storage"))
		return 1
	}
	if cli.store, err = guest.Open(ctx, storage, logger, guest.WithPromptAfter(conf.Guest.PromptAfter)); err != nil {
		cli.printError(stderr, err)
		return 1
	}
	defer func() {
		if err := cli.store.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing guest storage: %v", err), err)
		}
	}()

	if cli.api, err = woeapi.NewClient(opts.apiURL, nil); err != nil {
		cli.printError(stderr, err)
		return 1
	}

	err = cli.run(ctx, cmdArgs)
	if err != nil && err != errHelp {
		cli.printError(stderr, err)
	}
	return exitCode(err)
}
