// Command fbpd is the FBP host daemon: it owns one pubsub.Engine, one
// port.Port negotiating with a peer over a transport, and an optional
// admin HTTP API, wired together the way cuemby-warren's cobra root
// command wires its manager/worker/scheduler pieces.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jetperch/fbp/adminapi"
	"github.com/jetperch/fbp/evm"
	"github.com/jetperch/fbp/fbpconfig"
	"github.com/jetperch/fbp/fbplog"
	"github.com/jetperch/fbp/port"
	"github.com/jetperch/fbp/pubsub"
	"github.com/jetperch/fbp/transport"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fbpd: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "fbpd",
		Short:   "FBP host daemon: pub/sub engine, port negotiation, admin API",
		Version: Version,
	}
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, negotiate a port, and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := fbpconfig.Default()
			if configPath != "" {
				loaded, err := fbpconfig.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a .yaml/.yml/.toml config file")
	return cmd
}

func runServe(cfg fbpconfig.Config) error {
	logger := fbplog.NewZap(nil)

	engine := pubsub.New(cfg.Engine.Prefix, cfg.Engine.ArenaSize, pubsub.WithLogger(logger))

	role := port.RoleUpstream
	if cfg.Port.Role == "downstream" {
		role = port.RoleDownstream
	}
	tr, _ := transport.NewMemoryPair() // placeholder peer until a real transport is wired in
	clock := evm.NewWheel()
	p := port.New(role, 0, engine, tr, clock, port.WithLogger(logger))
	p.Connect()

	c := cron.New()
	_, err := c.AddFunc("@every 30s", func() {
		// Re-merges the engine's own prefix into "_/topic/list"; when it is
		// already listed this changes nothing, and nothing is published.
		engine.AddPrefix(cfg.Engine.Prefix)
	})
	if err != nil {
		return fmt.Errorf("fbpd: schedule heartbeat: %w", err)
	}
	c.Start()
	defer c.Stop()

	var srv *http.Server
	if cfg.Admin.Enabled {
		srv = &http.Server{Addr: cfg.Admin.ListenAddr, Handler: adminapi.Router(engine)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("fbpd: admin API stopped", "error", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	p.Disconnect()
	if srv != nil {
		_ = srv.Close()
	}
	time.Sleep(10 * time.Millisecond) // let the port's disconnect settle
	return nil
}
