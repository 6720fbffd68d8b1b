package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/synnefo-io/core/internal/blockstore"
	"github.com/synnefo-io/core/internal/nodestore"
	"github.com/synnefo-io/core/pkg/blocksweep"
	"github.com/synnefo-io/core/pkg/config"
	"github.com/synnefo-io/core/pkg/coordinator"
	"github.com/synnefo-io/core/pkg/events"
	"github.com/synnefo-io/core/pkg/facade"
	"github.com/synnefo-io/core/pkg/health"
	"github.com/synnefo-io/core/pkg/log"
	"github.com/synnefo-io/core/pkg/metrics"
	"github.com/synnefo-io/core/pkg/quota"
	"github.com/synnefo-io/core/pkg/reconciler"
	"github.com/synnefo-io/core/pkg/security"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pithosd",
	Short: "Storage Façade - content-addressed, versioned object store",
	Long: `pithosd serves the Storage Façade of spec §4.7: account/container/
object operations over a content-addressed block store and node tree,
every mutation routed through a Commission Coordinator so storage usage
stays in lockstep with the Quotaholder.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pithosd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Storage Façade HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		blocksDir, _ := cmd.Flags().GetString("blocks-dir")
		mapsDir, _ := cmd.Flags().GetString("maps-dir")
		configPath, _ := cmd.Flags().GetString("config")
		clientName, _ := cmd.Flags().GetString("client-name")
		quotaAddr, _ := cmd.Flags().GetString("quota-addr")
		reconcileInterval, _ := cmd.Flags().GetDuration("reconcile-interval")
		sweepInterval, _ := cmd.Flags().GetDuration("sweep-interval")
		caDir, _ := cmd.Flags().GetString("ca-dir")

		logger := log.WithComponent("pithosd")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}

		nodes, err := nodestore.NewStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open node tree store: %v", err)
		}
		defer nodes.Close()

		blockBackend, err := blockstore.NewLocalBackend(blocksDir)
		if err != nil {
			return fmt.Errorf("failed to open block backend: %v", err)
		}
		mapBackend, err := blockstore.NewLocalBackend(mapsDir)
		if err != nil {
			return fmt.Errorf("failed to open hashmap backend: %v", err)
		}
		blocks := blockstore.NewStore(blockstore.Config{
			Backend:   blockBackend,
			MapStore:  mapBackend,
			BlockSize: cfg.BlockSize,
		})

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		if quotaAddr == "" {
			return fmt.Errorf("--quota-addr is required: the Storage Façade always routes mutations through a Quotaholder")
		}
		quotaClientCfg := quota.ClientConfig{BaseURL: quotaAddr}
		if caDir != "" {
			tlsCfg, err := loadClientTLSConfig(caDir, clientName)
			if err != nil {
				return fmt.Errorf("failed to load mTLS client config: %v", err)
			}
			quotaClientCfg.TLSConfig = tlsCfg
			logger.Info().Str("ca_dir", caDir).Msg("securing quotaholder RPC with mTLS")
		}
		quotaBackend := coordinator.ClientBackend{Client: quota.NewClient(quotaClientCfg)}
		logger.Info().Str("quota_addr", quotaAddr).Msg("using remote quotaholder")

		coord, err := coordinator.New(dataDir, clientName, quotaBackend, broker)
		if err != nil {
			return fmt.Errorf("failed to create commission coordinator: %v", err)
		}
		defer coord.Close()

		f := facade.New(nodes, blocks, coord, broker, cfg)

		recon := reconciler.New(coord, reconcileInterval)
		recon.Start()
		defer recon.Stop()

		sweeper := blocksweep.New(nodes, blockBackend, blocks, sweepInterval)
		sweeper.Start()
		defer sweeper.Stop()

		reporter := health.NewReporter(5 * time.Second)
		reporter.Register("node_tree", storeOpenChecker{nodes: nodes})

		httpServer := facade.NewServer(f)
		mux := httpServer.Routes()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/healthz", reporter)

		srv := &http.Server{Addr: apiAddr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", apiAddr).Msg("storage façade listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("api server error: %w", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutdown signal received")
		case err := <-errCh:
			logger.Error().Err(err).Msg("server error, shutting down")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

// storeOpenChecker reports healthy as long as the node tree's bbolt handle
// can answer a trivial query; it's the one local dependency pithosd has no
// remote fallback for.
type storeOpenChecker struct {
	nodes *nodestore.Store
}

func (c storeOpenChecker) Type() health.CheckType { return health.CheckTypeTCP }

func (c storeOpenChecker) Check(ctx context.Context) health.Result {
	started := time.Now()
	_, err := c.nodes.NodeLookup("healthcheck")
	return health.Result{
		Healthy:   err == nil,
		Message:   fmt.Sprintf("err=%v", err),
		CheckedAt: started,
		Duration:  time.Since(started),
	}
}

// loadClientTLSConfig loads a root CA from caDir (must already have been
// initialized by the quotaholder's own --ca-dir setup) and issues a fresh
// client certificate identifying this Storage Façade to the Quotaholder.
func loadClientTLSConfig(caDir, clientName string) (*tls.Config, error) {
	ca := security.NewCertAuthority()
	if err := ca.LoadFromFiles(caDir); err != nil {
		return nil, fmt.Errorf("failed to load CA from %s: %w", caDir, err)
	}
	cert, err := ca.IssueClientCertificate(clientName)
	if err != nil {
		return nil, fmt.Errorf("failed to issue client certificate: %w", err)
	}
	return ca.ClientTLSConfig(cert)
}

func init() {
	serveCmd.Flags().String("api-addr", "127.0.0.1:8080", "HTTP listen address")
	serveCmd.Flags().String("data-dir", "./data/pithos/nodes", "Directory for the node tree bbolt store")
	serveCmd.Flags().String("blocks-dir", "./data/pithos/blocks", "Directory for the content-addressed block backend")
	serveCmd.Flags().String("maps-dir", "./data/pithos/maps", "Directory for persisted hashmaps (kept separate from blocks so the block sweeper never mistakes one for the other)")
	serveCmd.Flags().String("config", "", "Path to a YAML deployment config overlaying the built-in defaults")
	serveCmd.Flags().String("client-name", "pithos", "Commission Coordinator client identity presented to the Quotaholder")
	serveCmd.Flags().String("quota-addr", "", "Base URL of the Quotaholder's HTTP/JSON RPC endpoint")
	serveCmd.Flags().String("ca-dir", "", "Directory holding a root CA (ca.crt/ca.key) to secure the Quotaholder RPC with mTLS; empty disables mTLS")
	serveCmd.Flags().Duration("reconcile-interval", 10*time.Second, "Commission reconciliation sweep interval")
	serveCmd.Flags().Duration("sweep-interval", time.Hour, "Unreferenced block sweep interval")
}
