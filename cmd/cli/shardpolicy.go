package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	core "synnergy-network/core"
	"synnergy-network/pkg/netconf"
)

// shardPolicyCmd exposes the account->shard assignment policies
// (HashShardPolicy, GraphShardPolicy) named by --acc_shard_type in the
// bench harness, for ad-hoc lookups outside a running node.
var shardPolicyCmd = &cobra.Command{
	Use:     "~shardpolicy",
	Short:   "Resolve account->shard assignment under a given policy",
	Aliases: []string{"shardpolicy"},
}

var assignCmd = &cobra.Command{
	Use:   "assign <hash|graph> <address-hex>",
	Short: "Assign an address to a shard under the named policy",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		overridesPath, _ := cmd.Flags().GetString("overrides")

		addr, err := parseAddress(args[1])
		if err != nil {
			return err
		}

		var policy core.ShardPolicy
		switch args[0] {
		case "hash":
			policy = core.NewHashShardPolicy(core.ShardBits)
		case "graph":
			gp := core.NewGraphShardPolicy([]core.ShardID{0, 1, 2, 3}, core.ShardBits)
			if overridesPath != "" {
				entries, err := netconf.LoadAccountShardTable(overridesPath)
				if err != nil {
					return fmt.Errorf("load overrides: %w", err)
				}
				gp.LoadOverrides(entries)
			}
			policy = gp
		default:
			return fmt.Errorf("unknown policy %q (want hash|graph)", args[0])
		}

		fmt.Println(policy.AssignShard(addr))
		return nil
	},
}

func init() {
	assignCmd.Flags().String("overrides", "", "acc2shard-e{epoch}-s{N}.csv snapshot (graph policy only)")
	shardPolicyCmd.AddCommand(assignCmd)
}

// ShardPolicyCmd exposes the command for registration in the root CLI.
var ShardPolicyCmd = shardPolicyCmd
