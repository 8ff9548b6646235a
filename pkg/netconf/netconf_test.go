package netconf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAccountShardTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acc2shard-e1-s4.csv")
	data := "0101010101010101010101010101010101010101,0\n" +
		"0202020202020202020202020202020202020202,3\n" +
		"not-hex,1\n" +
		"0303030303030303030303030303030303030303\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	entries, err := LoadAccountShardTable(path)
	if err != nil {
		t.Fatalf("LoadAccountShardTable failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 valid entries, got %d", len(entries))
	}
	if entries[0].Shard != 0 || entries[1].Shard != 3 {
		t.Fatalf("unexpected shard assignments: %+v", entries)
	}
}

func TestLoadCommitteeAndParameters(t *testing.T) {
	dir := t.TempDir()
	committeePath := filepath.Join(dir, "committee.json")
	committeeJSON := `{"shards":{"0":{"validators":["aa"],"agg_pub_key":"bb"}}}`
	if err := os.WriteFile(committeePath, []byte(committeeJSON), 0600); err != nil {
		t.Fatalf("write committee fixture: %v", err)
	}
	c, err := LoadCommittee(committeePath)
	if err != nil {
		t.Fatalf("LoadCommittee failed: %v", err)
	}
	if len(c.Shards[0].Validators) != 1 || c.Shards[0].Validators[0] != "aa" {
		t.Fatalf("unexpected committee: %+v", c)
	}

	paramsPath := filepath.Join(dir, "parameters.json")
	paramsJSON := `{"opt_appending":2,"timer_resolution_ms":2500,"sync_retry_delay_ms":5000,"sync_retry_nodes":3}`
	if err := os.WriteFile(paramsPath, []byte(paramsJSON), 0600); err != nil {
		t.Fatalf("write parameters fixture: %v", err)
	}
	p, err := LoadParameters(paramsPath)
	if err != nil {
		t.Fatalf("LoadParameters failed: %v", err)
	}
	if p.OptAppending != 2 || p.SyncRetryNodes != 3 {
		t.Fatalf("unexpected parameters: %+v", p)
	}
}
