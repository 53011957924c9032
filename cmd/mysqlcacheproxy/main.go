// Command mysqlcacheproxy runs the MySQL wire-protocol caching proxy:
// it listens for client connections, forwards them to a single
// upstream MySQL server, and transparently answers cacheable SELECTs
// from Redis according to a periodically-refreshed rule table.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mevdschee/mysqlcacheproxy/internal/admin"
	"github.com/mevdschee/mysqlcacheproxy/internal/cache"
	"github.com/mevdschee/mysqlcacheproxy/internal/config"
	"github.com/mevdschee/mysqlcacheproxy/internal/logging"
	"github.com/mevdschee/mysqlcacheproxy/internal/metrics"
	"github.com/mevdschee/mysqlcacheproxy/internal/proxy"
	"github.com/mevdschee/mysqlcacheproxy/internal/rules"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "mysqlcacheproxy",
		Short: "Transparent caching proxy for the MySQL wire protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	root.Flags().StringVarP(&configFile, "config-file", "c", "config.toml", "Path to the TOML configuration file")

	log := logging.New("main")
	if err := root.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(configFile string) error {
	log := logging.New("main")

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	metrics.Init()
	if cfg.Metric.ExposePort != 0 {
		go func() {
			addr := net.JoinHostPort("", strconv.Itoa(int(cfg.Metric.ExposePort)))
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("metrics endpoint at http://localhost%s/metrics", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := rules.NewTable(logging.New("rules"))
	if cfg.MetaDB.IP != "" {
		refresher, err := rules.NewRefresher(cfg.MetaDB.DSN(), time.Duration(cfg.MetaDB.RefreshDurationSeconds)*time.Second, table, logging.New("rules"))
		if err != nil {
			log.Fatalf("create rule refresher: %v", err)
		}
		defer refresher.Close()
		go refresher.Run(ctx)
	}

	store, err := cache.New(cfg.Redis.Nodes)
	if err != nil {
		log.Fatalf("connect to redis: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		log.Printf("redis ping failed at startup, continuing anyway: %v", err)
	}
	writer := cache.NewWriter(store, 1024, logging.New("cache-writer"))
	go writer.Run(ctx)

	var reporter *metrics.Reporter
	var adminClient *admin.Client
	if cfg.Admin.Address != "" {
		adminClient = admin.New(cfg.Admin.Address, cfg.Server.Port)
		reporter = metrics.NewReporter(adminClient, cfg.Server.Port, 5*time.Second, logging.New("metric-reporter"))
		go reporter.Run(ctx)
		go runHeartbeat(ctx, adminClient, logging.New("heartbeat"))
	}

	srv := proxy.New(cfg.MySQL.Addr(), table, store, writer, reporter, logging.New("proxy"))

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(cfg.Server.Port))))
	if err != nil {
		log.Fatalf("listen on port %d: %v", cfg.Server.Port, err)
	}
	log.Printf("listening on %s, forwarding to %s", ln.Addr(), cfg.MySQL.Addr())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			log.Printf("proxy server stopped: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		cancel()
		<-serveErr
	}
	return nil
}

// runHeartbeat registers node liveness on its own ~30s cadence,
// distinct from the metric reporter's ~5s aggregation batches.
func runHeartbeat(ctx context.Context, client *admin.Client, log *logging.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	if err := client.Heartbeat(ctx); err != nil {
		log.Printf("heartbeat failed: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(ctx); err != nil {
				log.Printf("heartbeat failed: %v", err)
			}
		}
	}
}
