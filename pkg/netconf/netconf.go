// Package netconf loads the committee/parameter/account-shard snapshot
// files a shard deployment is bootstrapped from (spec §6, §12). These are
// data files, not application configuration, so they are loaded directly
// with encoding/json and encoding/csv rather than through pkg/config's
// viper-backed loader, grounded on original_source/worker/src/acc_shard.rs's
// CSV reader and the committee/parameters JSON files it reads alongside.
package netconf

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Committee is the per-shard validator roster and its BLS aggregate public
// key, loaded from committee.json.
type Committee struct {
	Shards map[uint16]ShardCommittee `json:"shards"`
}

// ShardCommittee is one shard's validator set.
type ShardCommittee struct {
	Validators []string `json:"validators"` // hex-encoded 20-byte addresses
	AggPubKey  string   `json:"agg_pub_key"` // hex-encoded BLS aggregate public key
}

// Parameters mirrors parameters.json: the tunables original_source exposes
// for the dual-mode append protocol and the batch fetcher's retry policy.
type Parameters struct {
	OptAppending          int   `json:"opt_appending"`
	TimerResolutionMillis int64 `json:"timer_resolution_ms"`
	SyncRetryDelayMillis  int64 `json:"sync_retry_delay_ms"`
	SyncRetryNodes        int   `json:"sync_retry_nodes"`
}

// LoadCommittee reads a committee.json snapshot.
func LoadCommittee(path string) (Committee, error) {
	var c Committee
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("netconf: open committee: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return c, fmt.Errorf("netconf: decode committee: %w", err)
	}
	return c, nil
}

// LoadParameters reads a parameters.json snapshot.
func LoadParameters(path string) (Parameters, error) {
	var p Parameters
	f, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("netconf: open parameters: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return p, fmt.Errorf("netconf: decode parameters: %w", err)
	}
	return p, nil
}

// AccountShardEntry is one row of an acc2shard-e{epoch}-s{N}.csv snapshot:
// a 20-byte address (hex) and the shard index that currently owns it.
type AccountShardEntry struct {
	Address [20]byte
	Shard   uint16
}

// LoadAccountShardTable reads an acc2shard CSV snapshot (or its
// act-acc2shard "active account" counterpart — same two-column shape),
// grounded on acc_shard.rs's AccToShardItem/ActAccToShardItem readers.
// Malformed rows (bad hex, wrong column count) are skipped rather than
// aborting the whole load, matching the original's tolerance for a
// partially-generated snapshot.
func LoadAccountShardTable(path string) ([]AccountShardEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("netconf: open account-shard table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true

	var out []AccountShardEntry
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		raw, err := hex.DecodeString(rec[0])
		if err != nil || len(raw) != 20 {
			continue
		}
		var shard uint16
		if _, err := fmt.Sscanf(rec[1], "%d", &shard); err != nil {
			continue
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, AccountShardEntry{Address: addr, Shard: shard})
	}
	return out, nil
}

// BrokerEntry is one row of brokers.csv: a broker address and the shard it
// is anchored to.
type BrokerEntry struct {
	Address [20]byte
	Shard   uint16
}

// LoadBrokerTable reads brokers.csv.
func LoadBrokerTable(path string) ([]BrokerEntry, error) {
	entries, err := LoadAccountShardTable(path)
	if err != nil {
		return nil, err
	}
	out := make([]BrokerEntry, len(entries))
	for i, e := range entries {
		out[i] = BrokerEntry{Address: e.Address, Shard: e.Shard}
	}
	return out, nil
}
