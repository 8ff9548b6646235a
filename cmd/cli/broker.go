package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	core "synnergy-network/core"
	"synnergy-network/pkg/netconf"
)

// brokerCmd exposes read-only broker-roster lookups against a brokers.csv
// snapshot (pkg/netconf), for operators checking whether an address is
// registered as a broker before wiring a live BrokerManager.
var brokerCmd = &cobra.Command{
	Use:     "~broker",
	Short:   "Inspect the broker roster used by broker-mediated transfers",
	Aliases: []string{"broker"},
}

var brokerIsCmd = &cobra.Command{
	Use:   "is <address-hex> <brokers.csv>",
	Short: "Report whether an address is registered as a sampled broker",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		entries, err := netconf.LoadBrokerTable(args[1])
		if err != nil {
			return fmt.Errorf("load broker table: %w", err)
		}
		brokers := make([]core.Address, len(entries))
		for i, e := range entries {
			brokers[i] = core.Address(e.Address)
		}
		epoch, err := cmd.Flags().GetUint64("epoch")
		if err != nil {
			return err
		}
		mgr := core.NewBrokerManager(brokers, epoch)
		fmt.Println(mgr.IsBroker(addr))
		return nil
	},
}

var brokerListCmd = &cobra.Command{
	Use:   "list <brokers.csv>",
	Short: "List the epoch-sampled broker pool drawn from the full roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := netconf.LoadBrokerTable(args[0])
		if err != nil {
			return fmt.Errorf("load broker table: %w", err)
		}
		shardByAddr := make(map[core.Address]uint16, len(entries))
		brokers := make([]core.Address, len(entries))
		for i, e := range entries {
			addr := core.Address(e.Address)
			brokers[i] = addr
			shardByAddr[addr] = e.Shard
		}
		epoch, err := cmd.Flags().GetUint64("epoch")
		if err != nil {
			return err
		}
		mgr := core.NewBrokerManager(brokers, epoch)
		for _, addr := range mgr.Brokers() {
			fmt.Printf("%x shard=%d\n", addr, shardByAddr[addr])
		}
		return nil
	},
}

func init() {
	brokerIsCmd.Flags().Uint64("epoch", 0, "epoch seed for the deterministic broker-pool sample")
	brokerListCmd.Flags().Uint64("epoch", 0, "epoch seed for the deterministic broker-pool sample")
	brokerCmd.AddCommand(brokerIsCmd)
	brokerCmd.AddCommand(brokerListCmd)
}

// BrokerCmd exposes the command for registration in the root CLI.
var BrokerCmd = brokerCmd
