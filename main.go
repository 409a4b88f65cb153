package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const defaultApiBase = "http://localhost:3030/api/flux"

func main() {
	mainArgs(os.Args[1:])
}

func mainArgs(args []string) {
	var (
		configFile string
		listen     string
		logLevel   string
		logJSON    bool
	)

	flags := flag.NewFlagSet("gitorious-recv", flag.ExitOnError)

	flags.StringVar(&configFile, "config", "gitoriousrecv.yaml", "path to config file for gitorious-recv")
	flags.StringVar(&listen, "listen", ":8080", "address to listen on")
	flags.StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&logJSON, "log-json", false, "log as JSON")

	bail := func(err error, msg string) {
		logrus.WithError(err).Fatal(msg)
	}

	flags.Parse(args)

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		bail(err, "invalid log level")
	}
	logrus.SetLevel(level)
	if logJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	config, err := ConfigFromFile(configFile)
	if err != nil {
		bail(err, "cannot load config")
	}
	configDir := filepath.Dir(configFile)

	notifier, err := NotifierFromConfig(config.Notifier)
	if err != nil {
		bail(err, "cannot create notifier")
	}
	poller := NewPoller(notifier, 0)
	dir, err := DirectoryFromConfig(config.Projects, poller)
	if err != nil {
		bail(err, "cannot load projects")
	}
	recv := &Receiver{
		Notifier: notifier,
		Scanner:  &scanner{dir: dir, multipleSCMs: config.MultipleSCMs},
	}
	router, err := NewRouter(configDir, recv, config.Endpoints)
	if err != nil {
		bail(err, "cannot set up endpoints")
	}

	srv := &http.Server{Addr: listen, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(ctx)
	})
	g.Go(func() error {
		logrus.WithField("listen", listen).Info("serving")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		bail(err, "server stopped")
	}
	logrus.Info("shut down")
}
