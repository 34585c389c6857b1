package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/julienstroheker/hexagent/internal/agent"
	"github.com/julienstroheker/hexagent/internal/bridge"
	"github.com/julienstroheker/hexagent/internal/config"
	"github.com/julienstroheker/hexagent/internal/logging"
	"github.com/julienstroheker/hexagent/internal/session"
)

const (
	defaultAddr            = "3000"
	defaultShutdownTimeout = 10 * time.Second
)

var (
	protoFlag      string
	domainFlag     string
	labelFlags     []string
	remoteAddrFlag string
	metadataFlag   string
	basicAuthFlags []string
	allowCIDRFlags []string
	denyCIDRFlags  []string
)

var startCmd = &cobra.Command{
	Use:   "start [addr]",
	Short: "Open an endpoint and forward its traffic to a local address",
	Long: `Open an endpoint and forward its traffic to a local address.

addr is a port, host:port, URL or socket path and defaults to 3000.
Listeners defined in the config file are started as well.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&protoFlag, "proto", "http", "Endpoint protocol: http, tcp, tls or labeled")
	startCmd.Flags().StringVar(&domainFlag, "domain", "", "Public domain of http and tls endpoints")
	startCmd.Flags().StringSliceVar(&labelFlags, "label", nil, "Label of a labeled endpoint, as key:value")
	startCmd.Flags().StringVar(&remoteAddrFlag, "remote-addr", "", "Reserved address of a tcp endpoint")
	startCmd.Flags().StringVar(&metadataFlag, "metadata", "", "Opaque endpoint metadata")
	startCmd.Flags().StringSliceVar(&basicAuthFlags, "basic-auth", nil, "Basic auth credential of an http endpoint, as user:password")
	startCmd.Flags().StringSliceVar(&allowCIDRFlags, "allow-cidr", nil, "Network allowed to reach the endpoint")
	startCmd.Flags().StringSliceVar(&denyCIDRFlags, "deny-cidr", nil, "Network denied from reaching the endpoint")
}

// listenerConfigs returns the listeners to start: the one described by flags
// and args, unless the config file defines some and no addr was given
func listenerConfigs(args []string, c *config.Config) []config.ListenerConfig {
	if len(args) == 0 && len(c.Listeners) > 0 {
		return c.Listeners
	}

	addr := defaultAddr
	if len(args) == 1 {
		addr = args[0]
	}
	lc := config.ListenerConfig{
		Addr:       addr,
		Proto:      protoFlag,
		Domain:     domainFlag,
		Labels:     labelFlags,
		RemoteAddr: remoteAddrFlag,
		Metadata:   metadataFlag,
		BasicAuth:  basicAuthFlags,
		AllowCIDR:  allowCIDRFlags,
		DenyCIDR:   denyCIDRFlags,
	}
	return append([]config.ListenerConfig{lc}, c.Listeners...)
}

func runAgent(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	c := GetConfig()

	backend, err := newBackend(c, log)
	if err != nil {
		return err
	}

	loop := bridge.NewLoop(&bridge.LoopOptions{Logger: log})
	a, err := agent.New(&agent.Options{
		Backend:    backend,
		Loop:       loop,
		Logger:     log,
		ServerAddr: c.ServerAddr,
		Authtoken:  c.Authtoken,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		err := a.Kill(shutdownCtx)
		loop.Close()
		return err
	})

	handlers := &agent.ConnectHandlers{
		OnConnection: func(s session.ConnectStatus) {
			if s.Error != "" {
				log.Warn("Relay connection failed", logging.String("error", s.Error))
				return
			}
			log.Info("Relay connection " + s.Status)
		},
		OnDisconnection: func(d session.Disconnect) bool {
			log.Warn("Disconnected from relay, reconnecting",
				logging.String("addr", d.Addr), logging.String("error", d.Error))
			return true
		},
	}

	var connectErr error
	for _, lc := range listenerConfigs(args, c) {
		if lc.SessionMetadata == "" {
			lc.SessionMetadata = c.SessionMetadata
		}
		h, err := a.Connect(gctx, &lc, handlers)
		if err != nil {
			connectErr = fmt.Errorf("failed to start %s endpoint: %w", lc.Proto, err)
			break
		}
		cmd.Printf("Forwarding %s -> %s\n", publicName(h), h.ForwardsTo())
	}
	if connectErr != nil {
		cancel()
	}

	return errors.Join(connectErr, g.Wait())
}

// publicName is the url of an endpoint, or its labels for labeled endpoints
func publicName(h *agent.Handle) string {
	if h.URL() != "" {
		return h.URL()
	}
	labels := h.Labels()
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return "labels{" + strings.Join(pairs, ",") + "}"
}
