package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"nvct-backend/internal/models"

	"github.com/spf13/cobra"
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Show or switch the current network",
}

var networkShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current network and every configured contract",
	RunE:  runNetworkShow,
}

var networkSetCmd = &cobra.Command{
	Use:   "set <testnet|mainnet>",
	Short: "Switch the current network",
	Long: `Switch the process-wide network flag persisted in the registry file.
A running server picks the change up on restart.`,
	Args: cobra.ExactArgs(1),
	RunE: runNetworkSet,
}

func init() {
	networkCmd.AddCommand(networkShowCmd)
	networkCmd.AddCommand(networkSetCmd)
	rootCmd.AddCommand(networkCmd)
}

func runNetworkShow(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	networks := registry.Networks()
	if jsonOut {
		return printJSON(map[string]interface{}{
			"current_network": registry.CurrentNetwork(),
			"networks":        networks,
		})
	}

	fmt.Printf("Current network: %s\n\n", registry.CurrentNetwork())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NETWORK\tCONTRACT\tADDRESS")
	for _, n := range networks {
		names := make([]string, 0, len(n.Contracts))
		for name := range n.Contracts {
			names = append(names, name)
		}
		sort.Strings(names)
		marker := ""
		if n.Current {
			marker = " *"
		}
		for _, name := range names {
			address := n.Contracts[name]
			if address == "" {
				address = "(unset)"
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\n", n.Network, marker, name, address)
		}
	}
	return w.Flush()
}

func runNetworkSet(cmd *cobra.Command, args []string) error {
	network, err := models.ParseNetwork(args[0])
	if err != nil {
		return err
	}
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	previous := registry.CurrentNetwork()
	if err := registry.SetCurrentNetwork(network, "nvctctl"); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]interface{}{"previous": previous, "current": network})
	}
	fmt.Printf("✅ Current network: %s (was %s)\n", network, previous)
	if network.IsMainnet() {
		fmt.Println("⚠️  Mainnet operations now require security-code confirmation")
	}
	return nil
}
