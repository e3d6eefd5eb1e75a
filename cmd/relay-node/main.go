package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/HieraChain-Relay/api"
	"github.com/VanDung-dev/HieraChain-Relay/config"
	relayapi "github.com/VanDung-dev/HieraChain-Relay/relay-engine/api"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/discovery"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/logx"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/network"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay-node: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to relay.yml (overrides -prefix)")
	prefix := flag.String("prefix", "", "Base directory holding config/relay.yml (default: executable directory)")
	peers := flag.String("peers", "", "Comma-separated peer addresses to connect to on start")
	port := flag.Int("port", -1, "Override the listening port")
	flag.Parse()

	var (
		cfg *config.MainConfig
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadMainConfig(*prefix)
	}
	if err != nil {
		return err
	}
	if *port >= 0 {
		cfg.Port = *port
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, closeLog, err := logx.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	metrics := api.NewMetrics("relay")
	metrics.RegisterRuntimeCollectors()

	opts := []network.Option{
		network.WithLogger(logger),
		network.WithMetrics(metrics),
	}
	if cfg.Discovery.Enabled {
		opts = append(opts, network.WithDiscoverer(discovery.New(cfg.DiscoveryConfig(cfg.Port), logger)))
	}

	node := network.NewNode(cfg.NodeConfig(), opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return err
	}
	defer node.Stop()

	for _, addr := range splitPeers(*peers) {
		if err := node.Connect(addr); err != nil {
			logger.Warn("Failed to connect to peer", zap.String("address", addr), zap.Error(err))
		}
	}

	var health *api.HealthServer
	if cfg.Admin.GRPCAddress != "" {
		health = api.NewHealthServer()
		if err := health.StartAsync(cfg.Admin.GRPCAddress); err != nil {
			return err
		}
		defer health.Stop()
		health.SetServing(true)
		logger.Info("Health service listening", zap.String("address", health.Addr().String()))
	}

	var admin *relayapi.AdminServer
	if cfg.Admin.Address != "" {
		auth := relayapi.NewAuthenticatorFromEnv()
		if auth.IsEnabled() && os.Getenv("RELAY_AUTH_TOKEN") == "" {
			logger.Warn("Generated admin token; set RELAY_AUTH_TOKEN to pin it", zap.String("token", auth.GetToken()))
		}

		admin = relayapi.NewAdminServer(node, metrics, auth, logger)
		if err := admin.StartAsync(cfg.Admin.Address); err != nil {
			return err
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	if health != nil {
		health.SetServing(false)
	}
	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := admin.Stop(shutdownCtx); err != nil {
			logger.Warn("Admin server shutdown", zap.Error(err))
		}
	}
	return nil
}

func splitPeers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
