package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/config"
	"github.com/macrat/telecache/internal/endpoint"
	"github.com/macrat/telecache/internal/logger"
	"github.com/macrat/telecache/internal/meta"
	"github.com/macrat/telecache/internal/schedule"
)

// ShutdownTimeout bounds the wait for in-flight requests and running refreshes on exit.
var ShutdownTimeout = 30 * time.Second

type ServeCommand struct {
	Streams
	CommonFlags

	ListenPort int
	UserInfo   string
}

func NewServeCommand(s Streams) *ServeCommand {
	return &ServeCommand{Streams: s}
}

func (cmd *ServeCommand) Run(args []string) (exitCode int) {
	flags := cmd.NewFlagSet(args[0])
	flags.IntVarP(&cmd.ListenPort, "port", "p", 0, "HTTP listen port")
	flags.StringVarP(&cmd.UserInfo, "user", "u", "", "Username and password for HTTP endpoint")

	if code, done := cmd.Parse(cmd.Streams, args); done {
		return code
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(cmd.ErrStream, "unexpected argument: %s\n", flags.Arg(0))
		cmd.PrintUsage(false)
		return 2
	}

	cfg, err := cmd.Load(func(cfg *config.Config) {
		if flags.Changed("port") {
			host, _, err := net.SplitHostPort(cfg.Server.Listen)
			if err != nil {
				host = "0.0.0.0"
			}
			cfg.Server.Listen = net.JoinHostPort(host, strconv.Itoa(cmd.ListenPort))
		}
		if flags.Changed("user") {
			cfg.Server.User = cmd.UserInfo
		}
	})
	if err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
		return 2
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: failed to listen: %s\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cmd.Serve(ctx, cfg, ln)
}

// Serve initializes every tier, schedules them, and serves HTTP on ln until ctx is done.
func (cmd *ServeCommand) Serve(ctx context.Context, cfg config.Config, ln net.Listener) (exitCode int) {
	cmd.ConfigureLogger(cfg)
	l := logger.Named("server")

	stack, err := Build(cfg)
	if err != nil {
		ln.Close()
		fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
		return 1
	}
	defer stack.Close()

	l.Infow("starting telecache", "version", meta.String(), "listen", ln.Addr().String(), "tiers", stack.Tiers())

	if err := stack.Init(ctx); err != nil {
		// Tiers that failed stay empty until a scheduled refresh succeeds.
		l.Warnw("some tiers are not initialized", "error", err)
	}

	schedules := make(map[cache.Tier]schedule.Schedule)
	for _, t := range stack.Tiers() {
		if sc, err := cfg.Schedule(t); err == nil {
			schedules[t] = sc
		}
	}

	runner := schedule.NewRunner(logger.Named("schedule"))
	stack.Schedule(runner, schedules)
	runner.Start()

	handler := endpoint.New(stack, logger.Named("endpoint"))
	srv := &http.Server{
		Handler:           endpoint.WithBasicAuth(handler, cfg.Server.User),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		l.Infow("shutting down")
		if err := srv.Shutdown(sctx); err != nil {
			l.Errorw("failed to shutdown HTTP server", "error", err)
		}
		if err := runner.Stop(sctx); err != nil {
			l.Errorw("gave up waiting for running refreshes", "error", err)
		}
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		l.Errorw("HTTP server stopped", "error", err)
		exitCode = 1
		srv.Close()
		runner.Stop(context.Background())
		return exitCode
	}

	<-done
	return 0
}
