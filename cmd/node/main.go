// Command node runs a single ringvote coordination node: it discovers
// peers over UDP broadcast, participates in LCR leader election, and
// (while LEADER) accepts client mutations against the in-memory election
// dataset and replicates them to followers.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ringvote/coordinator/internal/config"
	"github.com/ringvote/coordinator/internal/coordnode"
	"github.com/ringvote/coordinator/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		host       string
		port       int
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a ringvote coordination node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if host == "" {
				detected, err := detectHost()
				if err != nil {
					return fmt.Errorf("auto-detect host: %w (pass --host explicitly)", err)
				}
				host = detected
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			baseLog := logging.New()
			srv, err := coordnode.New(host, port, cfg, baseLog)
			if err != nil {
				return fmt.Errorf("bind failure: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "this node's advertised host (auto-detected if omitted)")
	cmd.Flags().IntVar(&port, "port", 9100, "this node's peer TCP port")
	cmd.Flags().StringVar(&configPath, "config", config.PathFromEnv(), "cluster config YAML path")

	return cmd
}

// detectHost is an external collaborator per spec.md §1: host IP
// auto-detection is out of scope for the coordination plane's logic, so
// this is a minimal best-effort fallback, not a hardened implementation.
func detectHost() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local addr type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
