package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ascend-academy/ascend/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Ascend API server",
	Long:  `Start the internal HTTP API (default 127.0.0.1:8420).`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}

	d, err := daemon.NewWithConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Ascend serving on http://%s\n", d.Addr())
	if cfg.Telemetry.Prometheus {
		fmt.Fprintf(cmd.OutOrStdout(), "  Metrics: http://%s/metrics\n", d.Addr())
	}
	return d.Serve(cmd.Context())
}
