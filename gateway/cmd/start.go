package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	gatewayhttp "github.com/julienstroheker/hexagent/gateway/http"
	"github.com/julienstroheker/hexagent/internal/logging"
)

const (
	defaultPort            = 8080
	defaultShutdownTimeout = 30
)

var (
	portFlag            int
	shutdownTimeoutFlag int
	publicHostFlag      string
	bindHostFlag        string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway HTTP server",
	Long: `Start the gateway HTTP server.

Agents connect on /tunnel. /healthz, /metrics and /api/sessions are served
on the same port. HEXAGENT_AUTHTOKEN, when set, is required from agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().IntVarP(&portFlag, "port", "p", defaultPort, "Port to listen on")
	startCmd.Flags().IntVar(&shutdownTimeoutFlag, "shutdown-timeout", defaultShutdownTimeout,
		"Graceful shutdown timeout in seconds")
	startCmd.Flags().StringVar(&publicHostFlag, "public-host", "localhost", "Host name placed in tunnel URLs")
	startCmd.Flags().StringVar(&bindHostFlag, "bind-host", "127.0.0.1", "Interface public tunnel listeners bind to")
}

func runServer(cmd *cobra.Command) error {
	log := GetLogger()

	server := gatewayhttp.NewServer(&gatewayhttp.Options{
		Port:       portFlag,
		Logger:     log,
		Authtoken:  GetConfig().Authtoken,
		PublicHost: publicHostFlag,
		BindHost:   bindHostFlag,
	})

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", portFlag))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", portFlag, err)
	}
	cmd.Printf("Gateway listening on %s\n", l.Addr())

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Serve(l)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		log.Info("Starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeoutFlag)*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("Graceful shutdown failed", logging.Error(err))
			_ = server.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	log.Info("Server stopped")
	return nil
}
