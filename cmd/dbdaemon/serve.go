package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/temporaldb/dbdaemon/pkg/daemon"
	"github.com/temporaldb/dbdaemon/pkg/log"
	"github.com/temporaldb/dbdaemon/pkg/security"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dbdaemon RPC server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("bind", "127.0.0.1:8090", "Address the RPC server listens on")
	serveCmd.Flags().String("certs-dir", "", "Directory holding ca.pem/cert.pem/key.pem (used when --ca/--cert/--key are unset)")
	serveCmd.Flags().String("ca", "", "CA certificate PEM path")
	serveCmd.Flags().String("cert", "", "Server certificate PEM path")
	serveCmd.Flags().String("key", "", "Server key PEM path")
	serveCmd.Flags().String("data-dir", "./dbdaemon-data", "Data directory for the bbolt document store")
	// elastic-url and index-prefix name the document-store endpoint the
	// way a real Elasticsearch-backed build would take it; the shipped
	// backend is bbolt-only (--data-dir), so these are accepted for
	// forward compatibility and otherwise unused.
	serveCmd.Flags().String("elastic-url", "", "Document store endpoint (unused by the bbolt backend; forward-compat placeholder)")
	serveCmd.Flags().String("index-prefix", "", "Document store index/collection prefix (unused by the bbolt backend; forward-compat placeholder)")
}

func runServe(cmd *cobra.Command, args []string) error {
	bindAddr, _ := cmd.Flags().GetString("bind")
	certsDir, _ := cmd.Flags().GetString("certs-dir")
	caFile, _ := cmd.Flags().GetString("ca")
	certFile, _ := cmd.Flags().GetString("cert")
	keyFile, _ := cmd.Flags().GetString("key")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	if certsDir != "" {
		if caFile == "" {
			caFile = filepath.Join(certsDir, "ca.pem")
		}
		if certFile == "" {
			certFile = filepath.Join(certsDir, "cert.pem")
		}
		if keyFile == "" {
			keyFile = filepath.Join(certsDir, "key.pem")
		}
	}
	if caFile == "" || certFile == "" || keyFile == "" {
		return fmt.Errorf("TLS material required: set --certs-dir or all of --ca/--cert/--key")
	}

	ctx := context.Background()
	d, err := daemon.New(ctx, daemon.Config{
		BindAddr: bindAddr,
		DataDir:  dataDir,
		TLS: security.Config{
			CAFile:   caFile,
			CertFile: certFile,
			KeyFile:  keyFile,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start dbdaemon: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := d.Serve(); err != nil {
			errCh <- err
		}
	}()
	log.Logger.Info().Str("addr", d.Addr()).Msg("dbdaemon listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("rpc server error")
	}

	return d.Shutdown(context.Background())
}
