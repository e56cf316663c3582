package main

import (
	"fmt"

	"nvct-backend/internal/models"
	"nvct-backend/internal/utils"

	"github.com/spf13/cobra"
)

var (
	contractNetwork string
	confirmMainnet  bool
)

var contractCmd = &cobra.Command{
	Use:   "contract",
	Short: "Read or update contract addresses",
}

var contractGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print the address of a contract",
	Args:  cobra.ExactArgs(1),
	RunE:  runContractGet,
}

var contractSetCmd = &cobra.Command{
	Use:   "set <name> <address>",
	Short: "Set the address of a contract",
	Args:  cobra.ExactArgs(2),
	RunE:  runContractSet,
}

func init() {
	contractCmd.PersistentFlags().StringVarP(&contractNetwork, "network", "n", "", "network (default: current network)")
	contractSetCmd.Flags().BoolVar(&confirmMainnet, "confirm-mainnet", false, "allow writing a mainnet address")

	contractCmd.AddCommand(contractGetCmd)
	contractCmd.AddCommand(contractSetCmd)
	rootCmd.AddCommand(contractCmd)
}

// targetNetwork --network or the registry's current network
func targetNetwork(current models.Network) (models.Network, error) {
	if contractNetwork == "" {
		return current, nil
	}
	return models.ParseNetwork(contractNetwork)
}

func runContractGet(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	network, err := targetNetwork(registry.CurrentNetwork())
	if err != nil {
		return err
	}
	address, err := registry.Resolve(args[0], &network)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]string{"network": network.String(), "contract_name": args[0], "address": address})
	}
	fmt.Println(address)
	return nil
}

func runContractSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	addr, err := utils.ParseAddress(args[1])
	if err != nil {
		return fmt.Errorf("invalid address %s: %w", args[1], err)
	}

	registry, err := openRegistry()
	if err != nil {
		return err
	}
	network, err := targetNetwork(registry.CurrentNetwork())
	if err != nil {
		return err
	}
	if network.IsMainnet() && !confirmMainnet {
		return fmt.Errorf("refusing to change mainnet %s without --confirm-mainnet", name)
	}

	if err := registry.Update(network, name, addr.Hex()); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]string{"network": network.String(), "contract_name": name, "address": addr.Hex()})
	}
	fmt.Printf("✅ %s on %s set to %s\n", name, network, addr.Hex())
	return nil
}
