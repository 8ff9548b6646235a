package cli

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	core "synnergy-network/core"
)

// xtransferCmd groups cross-shard message record commands.
var xtransferCmd = &cobra.Command{
	Use:     "cross_tx",
	Short:   "Inspect recorded cross-shard messages",
	Aliases: []string{"csmsg"},
}

func parseAddress(s string) (core.Address, error) {
	var addr core.Address
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return addr, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes, got %d", len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseShardID(s string) (core.ShardID, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid shard id: %w", err)
	}
	return core.ShardID(v), nil
}

// getXTxCmd retrieves one recorded CSMsg by (source shard, sequence).
var getXTxCmd = &cobra.Command{
	Use:   "get <source_shard> <sequence>",
	Short: "Retrieve a recorded cross-shard message by source shard and sequence",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := parseShardID(args[0])
		if err != nil {
			return err
		}
		seq, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid sequence: %w", err)
		}
		rec, err := core.GetCSMsgRecord(core.MsgID{Source: source, Sequence: seq})
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

// listXTxCmd lists every recorded CSMsg originating at a shard.
var listXTxCmd = &cobra.Command{
	Use:   "list <source_shard>",
	Short: "List recorded cross-shard messages originating at a shard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := parseShardID(args[0])
		if err != nil {
			return err
		}
		recs, err := core.ListCSMsgRecordsFrom(source)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(recs, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	xtransferCmd.AddCommand(getXTxCmd)
	xtransferCmd.AddCommand(listXTxCmd)
}

// CrossChainTxCmd exposes the command for registration in the root CLI.
var CrossChainTxCmd = xtransferCmd
