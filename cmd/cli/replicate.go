package cli

// cmd/cli/replicate.go – operator entrypoint for the batch replication
// layer (spec §4.6/§6). Wires core.TCPPeerManager (connection_pool.go) as
// the production PeerManager for core.Replicator/core.TxConvertor, in
// place of replication_test.go's in-memory fakePeerManager double.

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	core "synnergy-network/core"
)

var replicateCmd = &cobra.Command{
	Use:     "~replicate",
	Short:   "Run the batch replication (fetch/gossip) service",
	Aliases: []string{"replicate"},
}

var replicateServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve batch requests and relay fetched batches over TCP",
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		peerAddrs, _ := cmd.Flags().GetStringSlice("peer")
		maxIdle, _ := cmd.Flags().GetInt("max-idle-conns")
		idleTTL, _ := cmd.Flags().GetDuration("idle-ttl")

		dialer := core.NewDialer(5*time.Second, 30*time.Second)
		pool := core.NewConnPool(dialer, maxIdle, idleTTL)
		pm, err := core.NewTCPPeerManager(pool, listen)
		if err != nil {
			return fmt.Errorf("replicate: %w", err)
		}
		defer pm.Close()

		for _, addr := range peerAddrs {
			if err := pm.Connect(addr); err != nil {
				log.Warnf("replicate: connect %s: %v", addr, err)
			}
		}

		store := core.NewKVBatchStore(core.CurrentStore())
		logger := log.StandardLogger()
		replicator := core.NewReplicator(&core.ReplicationConfig{}, logger, store, pm)
		replicator.Start()
		defer replicator.Stop()

		logger.Infof("replicate: serving on %s with %d known peer(s)", listen, len(peerAddrs))
		select {}
	},
}

func init() {
	replicateServeCmd.Flags().String("listen", "127.0.0.1:7990", "address to accept inbound peer connections on")
	replicateServeCmd.Flags().StringSlice("peer", nil, "peer addresses to connect to at startup (repeatable)")
	replicateServeCmd.Flags().Int("max-idle-conns", 8, "max idle pooled connections per peer")
	replicateServeCmd.Flags().Duration("idle-ttl", 2*time.Minute, "idle pooled connection lifetime")
	replicateCmd.AddCommand(replicateServeCmd)
}

// ReplicateCmd exposes the command for registration in the root CLI.
var ReplicateCmd = replicateCmd
