package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/gateway"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/observability"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/store"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport/streamlink"
)

const sweepInterval = time.Minute

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "btxgateway: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("btxgateway", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "gateway config (toml)")
	addr := fs.String("addr", "", "override listen address")
	radio := fs.String("radio", "", "override radio TCP address")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	observability.InitLogger("btxgateway")
	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		return err
	}
	if fs.Changed("addr") {
		cfg.Addr = *addr
	}
	if fs.Changed("radio") {
		cfg.RadioAddress = *radio
	}

	sinks := gateway.Sinks{gateway.LogSink{}}
	if cfg.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
		j, err := store.OpenJournal(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		sinks = append(gateway.Sinks{gateway.JournalSink{Journal: j}}, sinks...)
	}
	g, err := gateway.New(cfg.Gateway, sinks)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go g.Run(ctx, sweepInterval)
	if cfg.RadioAddress != "" {
		logs.Infof("btxgateway radio address=%s layout=%s framed=%t", cfg.RadioAddress, radioLayout(cfg.Gateway.Layout), cfg.RadioFramed)
		go g.RunRadio(ctx, radioDialer(cfg), cfg.RadioFramed, gateway.DefaultRadioRetry)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gateway.NewRouter(g, gateway.RouterConfig{Node: "btxgateway", CorsOrigins: cfg.CorsOrigins}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logs.Infof("btxgateway listening addr=%s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logs.Info("btxgateway shutting down")
	return srv.Shutdown(shutdownCtx)
}

func radioDialer(cfg serviceConfig) gateway.RadioDialer {
	return func(ctx context.Context) (gateway.RadioLink, error) {
		l, err := streamlink.Dial(ctx, cfg.RadioAddress, streamlink.Options{
			Framed: cfg.RadioFramed,
			Frame:  cfg.RadioFrame,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}
