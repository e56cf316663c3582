package main

import (
	"encoding/json"
	"fmt"
	"os"

	"nvct-backend/internal/config"
	"nvct-backend/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile       string
	contractsFile string
	jsonOut       bool
)

var rootCmd = &cobra.Command{
	Use:   "nvctctl",
	Short: "Operator CLI for the NVCT contract registry",
	Long: `nvctctl reads and edits the contract address registry shared with the server.

The registry file is taken from --contracts, else from the config file
(blockchain.contractsFile or CONTRACT_CONFIG_PATH).

Changes made here bypass the security gate of the HTTP API. Mainnet
writes therefore require --confirm-mainnet.

Examples:
  nvctctl network show
  nvctctl network set mainnet
  nvctctl contract get settlement_contract --network testnet
  nvctctl contract set settlement_contract 0x... --network mainnet --confirm-mainnet`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logrus.SetLevel(logrus.WarnLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default config.local.yaml or config.yaml)")
	rootCmd.PersistentFlags().StringVar(&contractsFile, "contracts", "", "contract registry file (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}

// openRegistry loads the registry the server would use
func openRegistry() (*config.ContractRegistry, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	path := cfg.Blockchain.ContractsFile
	if contractsFile != "" {
		path = contractsFile
	}
	if path == "" {
		return nil, fmt.Errorf("no contract registry file configured")
	}
	defaultNetwork, err := models.ParseNetwork(cfg.Blockchain.DefaultNetwork)
	if err != nil {
		defaultNetwork = models.NetworkTestnet
	}
	return config.NewContractRegistry(path, defaultNetwork)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
