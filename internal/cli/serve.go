package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mabou7agar/nodefabric/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveSlug, "slug", "", "this node's slug (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
	serveSlug string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start this node's HTTP API server",
	Long:  `Start the fabric node's HTTP API: health, search, chat, actions, and aggregate.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(configPath)
	if err != nil {
		return err
	}
	defer d.Close()

	if serveHost != "" {
		d.Config.API.Host = serveHost
	}
	if servePort > 0 {
		d.Config.API.Port = servePort
	}
	if serveSlug != "" {
		d.Config.Node.Slug = serveSlug
	}

	return d.Serve(context.Background())
}
