package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mabou7agar/nodefabric/internal/daemon"
	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/registry"
)

func init() {
	registerCmd.Flags().StringVar(&registerName, "name", "", "display name for the node")
	registerCmd.Flags().StringVar(&registerBaseURL, "base-url", "", "node's base URL (required)")
	registerCmd.Flags().StringVar(&registerAPIKey, "api-key", "", "API key the fabric uses to authenticate to this node")
	registerCmd.Flags().StringVar(&registerType, "type", "child", `node type: "master" or "child"`)
	registerCmd.Flags().StringSliceVar(&registerCapabilities, "capabilities", nil, "comma-separated capability tags")
	registerCmd.Flags().StringSliceVar(&registerDomains, "domains", nil, "comma-separated domain tags")
	registerCmd.Flags().StringSliceVar(&registerDataTypes, "data-types", nil, "comma-separated data type tags")
	registerCmd.Flags().StringSliceVar(&registerKeywords, "keywords", nil, "comma-separated keyword tags")
	_ = registerCmd.MarkFlagRequired("base-url")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(nodesCmd)
}

var (
	registerName          string
	registerBaseURL       string
	registerAPIKey        string
	registerType          string
	registerCapabilities  []string
	registerDomains       []string
	registerDataTypes     []string
	registerKeywords      []string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a peer node with this node's registry",
	RunE:  runRegister,
}

func runRegister(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(configPath)
	if err != nil {
		return err
	}
	defer d.Close()

	nodeType := domain.NodeType(strings.ToLower(registerType))
	n, err := d.Registry.Register(context.Background(), registry.RegisterInput{
		Name:         registerName,
		Type:         nodeType,
		BaseURL:      registerBaseURL,
		APIKey:       registerAPIKey,
		Capabilities: registerCapabilities,
		Domains:      registerDomains,
		DataTypes:    registerDataTypes,
		Keywords:     registerKeywords,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Printf("registered %s (%s) at %s\n", n.Slug, n.Name, n.BaseURL)
	return nil
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List nodes known to this node's registry",
	RunE:  runNodes,
}

func runNodes(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(configPath)
	if err != nil {
		return err
	}
	defer d.Close()

	nodes := d.Registry.All()
	if len(nodes) == 0 {
		fmt.Println("no nodes registered")
		return nil
	}
	for _, n := range nodes {
		fmt.Printf("%-24s %-10s %-10s %s\n", n.Slug, n.Type, n.Status, n.BaseURL)
	}
	return nil
}
