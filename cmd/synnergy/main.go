package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	cli "synnergy-network/cmd/cli"
	core "synnergy-network/core"
)

func main() {
	rootCmd := &cobra.Command{Use: "synnergy"}
	rootCmd.AddCommand(testnetCmd())
	rootCmd.AddCommand(tokensCmd())
	rootCmd.AddCommand(cli.NewShardingCommand())
	rootCmd.AddCommand(cli.CrossChainTxCmd)
	rootCmd.AddCommand(cli.CrossShardCmd)
	rootCmd.AddCommand(cli.ShardPolicyCmd)
	rootCmd.AddCommand(cli.BrokerCmd)
	rootCmd.AddCommand(cli.ReplicateCmd)
	rootCmd.AddCommand(benchCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func testnetCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "testnet"}
	start := &cobra.Command{
		Use:   "start [config]",
		Short: "start a mock test network",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := ""
			if len(args) > 0 {
				cfg = args[0]
			}
			fmt.Printf("starting mock testnet with config %s\n", cfg)
			time.Sleep(5 * time.Second)
		},
	}
	cmd.AddCommand(start)
	return cmd
}

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tokens"}
	transfer := &cobra.Command{
		Use:   "transfer [token]",
		Short: "mock token transfer",
		Run: func(cmd *cobra.Command, args []string) {
			tok := "SYNN"
			if len(args) > 0 {
				tok = args[0]
			}
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			amt, _ := cmd.Flags().GetInt("amt")
			fmt.Printf("transfer %s from %s to %s amount %d\n", tok, from, to, amt)
		},
	}
	transfer.Flags().String("from", "", "from address")
	transfer.Flags().String("to", "", "to address")
	transfer.Flags().Int("amt", 0, "amount")
	cmd.AddCommand(transfer)
	return cmd
}

// benchCmd drives a single-process executor benchmark: a synthetic account
// set, one shard, and --totaltxs intra-shard transfers between consecutive
// accounts of that set (wrapping around at the end), run
// straight through Executor.ProcessBatches, the same entrypoint a worker
// would call once a TxConvertor has assembled a header's batches. This
// mirrors the throughput harness the original runs via its own bench
// binary, minus the multi-process/multi-shard orchestration.
func benchCmd() *cobra.Command {
	var executorType, accShardType, appendType string
	var rate int
	var totalTxs uint64
	var accounts int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "run an in-process executor throughput benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			var variant core.ExecutorVariant
			switch executorType {
			case "s":
				variant = core.ExecutorS
			case "m":
				variant = core.ExecutorM
			case "b":
				variant = core.ExecutorB
			default:
				return fmt.Errorf("unknown --executor_type %q (want s|m|b)", executorType)
			}

			var policy core.ShardPolicy
			switch accShardType {
			case "hash":
				policy = core.NewHashShardPolicy(core.ShardBits)
			case "graph":
				policy = core.NewGraphShardPolicy([]core.ShardID{0}, core.ShardBits)
			default:
				return fmt.Errorf("unknown --acc_shard_type %q (want hash|graph)", accShardType)
			}

			switch appendType {
			case "dual", "serial":
				// recorded for operator visibility; single-shard bench never
				// crosses a shard boundary, so no CSMsg ever needs appending.
			default:
				return fmt.Errorf("unknown --append_type %q (want dual|serial)", appendType)
			}

			coord := core.NewShardCoordinator(0, policy, nil)
			store := core.NewMStore()
			exec := core.NewExecutor(variant, 0, coord, store, nil, nil)

			addrs := make([]core.Address, accounts)
			for i := range addrs {
				if _, err := rand.Read(addrs[i][:]); err != nil {
					return fmt.Errorf("bench: generate address: %w", err)
				}
				store.Set(addrs[i], core.NewAccount())
			}

			start := time.Now()
			var counter uint64
			for processed := uint64(0); processed < totalTxs; {
				batch := core.Batch{}
				for i := 0; i < 1000 && processed < totalTxs; i++ {
					sender := addrs[counter%uint64(len(addrs))]
					receiver := addrs[(counter+1)%uint64(len(addrs))]
					frame := core.Frame{ShardID: 0, RWSet: []core.RWSet{
						{Addr: sender, Value: -1},
						{Addr: receiver, Value: 1},
					}}
					tx := core.NewCoreTx(counter, sender, receiver, 1, 0, []core.Frame{frame})
					batch.Txs = append(batch.Txs, core.GeneralTx{Kind: core.KindTransfer, Transfer: tx})
					counter++
					processed++
				}
				batch.Digest = batch.ComputeDigest()
				exec.ProcessBatches(0, core.Header{Height: 0}, []core.Batch{batch})
				if rate > 0 {
					time.Sleep(time.Second / time.Duration(rate))
				}
			}
			elapsed := time.Since(start)

			fmt.Printf("processed %d txs (general=%d commit=%d aborted=%d) in %s (%.0f tx/s)\n",
				totalTxs, exec.TotalGeneral, exec.TotalCommit, exec.TotalAborted,
				elapsed, float64(totalTxs)/elapsed.Seconds())
			return nil
		},
	}

	cmd.Flags().StringVar(&executorType, "executor_type", "m", "executor variant: s|m|b")
	cmd.Flags().StringVar(&accShardType, "acc_shard_type", "hash", "account->shard assignment: hash|graph")
	cmd.Flags().StringVar(&appendType, "append_type", "dual", "cross-shard append mode: dual|serial")
	cmd.Flags().IntVar(&rate, "rate", 0, "target submission rate in tx/s (0 = unthrottled)")
	cmd.Flags().Uint64Var(&totalTxs, "totaltxs", 10_000, "total number of transactions to submit")
	cmd.Flags().IntVar(&accounts, "accounts", 1000, "size of the synthetic account set")
	return cmd
}
