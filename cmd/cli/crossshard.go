package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"synnergy-network/pkg/netconf"
)

// crossShardCmd groups operator inspection of the cross-shard snapshot
// files a shard deployment is bootstrapped from (committee.json,
// parameters.json), loaded directly through pkg/netconf rather than the
// daemon RPC path ~shard uses, since these are static files an operator
// wants to read before a node is even running.
var crossShardCmd = &cobra.Command{
	Use:     "~crossshard",
	Short:   "Inspect cross-shard committee and protocol parameters",
	Aliases: []string{"crossshard", "xs"},
}

var committeeCmd = &cobra.Command{
	Use:   "committee <path>",
	Short: "Print a committee.json snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := netconf.LoadCommittee(args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("encode committee: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

var parametersCmd = &cobra.Command{
	Use:   "parameters <path>",
	Short: "Print a parameters.json snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := netconf.LoadParameters(args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return fmt.Errorf("encode parameters: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	crossShardCmd.AddCommand(committeeCmd)
	crossShardCmd.AddCommand(parametersCmd)
}

// CrossShardCmd exposes the command for registration in the root CLI.
var CrossShardCmd = crossShardCmd
