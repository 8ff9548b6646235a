package core

// state_store.go – the two-level MPT state store (spec §4.4): MStore for
// executor variant M (single persistent trie) and TStore for variants S/B
// (in-memory active trie over a persistent full trie, promote-on-read-miss).
// Grounded on account_and_balance_operations.go's thread-safe wrapper idiom,
// rebuilt over mpt.go instead of a flat balance map, and on
// worker/src/state_store.rs for the tiering/migration shape.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

func encodeAccount(a Account) []byte {
	b, _ := json.Marshal(a)
	return b
}

func decodeAccount(raw []byte) (Account, bool) {
	if raw == nil {
		return Account{}, false
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return Account{}, false
	}
	return a, true
}

//---------------------------------------------------------------------
// MStore – single persistent trie (executor variant M)
//---------------------------------------------------------------------

// MStore holds one persistent MPT over the shard's full account set.
type MStore struct {
	trie *MPT
}

func NewMStore() *MStore { return &MStore{trie: NewMPT()} }

// Get returns the account at addr, materializing it at INIT_BALANCE on
// first reference.
func (s *MStore) Get(addr Address) Account {
	if acct, ok := decodeAccount(s.trie.Get(addr)); ok {
		return acct
	}
	acct := NewAccount()
	s.trie.Insert(addr, encodeAccount(acct))
	return acct
}

func (s *MStore) Set(addr Address, acct Account) {
	s.trie.Insert(addr, encodeAccount(acct))
}

func (s *MStore) Root() Hash { return s.trie.Root() }

func (s *MStore) GetProof(addr Address) MerklePath { return s.trie.GetProof(addr) }

// SetState / GetState satisfy the stateAnchor contract used by AuditTrail.
func (s *MStore) SetState(key, value []byte) error {
	var addr Address
	if len(key) < len(addr) {
		return fmt.Errorf("state_store: key too short")
	}
	copy(addr[:], key[:len(addr)])
	s.trie.Insert(addr, value)
	return nil
}

// Persist pins the full account set as a single ftstore/ page and returns
// its content identifier.
func (s *MStore) Persist(ctx context.Context, storage *Storage) (string, error) {
	return storage.PinJSON(ctx, s.trie.Snapshot())
}

// Restore replaces the trie's contents with the ftstore/ page named by
// cidStr.
func (s *MStore) Restore(ctx context.Context, storage *Storage, cidStr string) error {
	raw, err := storage.Retrieve(ctx, cidStr)
	if err != nil {
		return fmt.Errorf("state_store: restore: %w", err)
	}
	var leaves []MPTLeaf
	if err := json.Unmarshal(raw, &leaves); err != nil {
		return fmt.Errorf("state_store: restore decode: %w", err)
	}
	s.trie.LoadSnapshot(leaves)
	return nil
}

//---------------------------------------------------------------------
// TStore – tiered active/full trie (executor variants S/B)
//---------------------------------------------------------------------

// TStore separates a hot, in-memory "active" account set from the
// persistent "full" set every account mapped to this shard ultimately
// belongs to. Reads probe act first; on miss, full is consulted and the
// value promoted into act.
type TStore struct {
	act  *MPT
	full *MPT
}

func NewTStore() *TStore {
	return &TStore{act: NewMPT(), full: NewMPT()}
}

// Get returns the account at addr, promoting a full-tier hit into act, and
// materializing an absent account at INIT_BALANCE in act.
func (s *TStore) Get(addr Address) Account {
	if raw := s.act.Get(addr); raw != nil {
		acct, _ := decodeAccount(raw)
		return acct
	}
	if raw := s.full.Get(addr); raw != nil {
		s.act.Insert(addr, raw) // promote
		acct, _ := decodeAccount(raw)
		return acct
	}
	acct := NewAccount()
	s.act.Insert(addr, encodeAccount(acct))
	return acct
}

// Set writes only to the active tier; flush/migration moves it to full.
func (s *TStore) Set(addr Address, acct Account) {
	s.act.Insert(addr, encodeAccount(acct))
}

func (s *TStore) ActRoot() Hash  { return s.act.Root() }
func (s *TStore) FullRoot() Hash { return s.full.Root() }

// FlushEpoch copies every active entry into full, matching the spec's
// "active trie is flushed into full at epoch boundaries" rule.
func (s *TStore) FlushEpoch(activeAddrs []Address) {
	for _, addr := range activeAddrs {
		if raw := s.act.Get(addr); raw != nil {
			s.full.Insert(addr, raw)
		}
	}
}

func (s *TStore) SetState(key, value []byte) error {
	var addr Address
	if len(key) < len(addr) {
		return fmt.Errorf("state_store: key too short")
	}
	copy(addr[:], key[:len(addr)])
	s.act.Insert(addr, value)
	return nil
}

// PersistFull pins the dormant (full-tier) account set as a single ftstore/
// page and returns its content identifier.
func (s *TStore) PersistFull(ctx context.Context, storage *Storage) (string, error) {
	return storage.PinJSON(ctx, s.full.Snapshot())
}

// RestoreFull replaces the full tier's contents with the ftstore/ page
// named by cidStr, e.g. on process restart before replaying recent blocks
// into act.
func (s *TStore) RestoreFull(ctx context.Context, storage *Storage, cidStr string) error {
	raw, err := storage.Retrieve(ctx, cidStr)
	if err != nil {
		return fmt.Errorf("state_store: restore full: %w", err)
	}
	var leaves []MPTLeaf
	if err := json.Unmarshal(raw, &leaves); err != nil {
		return fmt.Errorf("state_store: restore full decode: %w", err)
	}
	s.full.LoadSnapshot(leaves)
	return nil
}

// ShipMigration durably pins payload to the gateway-backed store and
// returns its content identifier, the handoff CommitMigrationSend's
// contract assumes has already happened by the time it's called.
func (s *TStore) ShipMigration(ctx context.Context, storage *Storage, payload MigrationPayload) (string, error) {
	return storage.PinJSON(ctx, payload)
}

// FetchMigration retrieves a payload shipped by ShipMigration.
func (s *TStore) FetchMigration(ctx context.Context, storage *Storage, cidStr string) (MigrationPayload, error) {
	var payload MigrationPayload
	raw, err := storage.Retrieve(ctx, cidStr)
	if err != nil {
		return payload, fmt.Errorf("state_store: fetch migration: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("state_store: decode migration: %w", err)
	}
	return payload, nil
}

//---------------------------------------------------------------------
// Migration (spec §4.4, streams A-F)
//---------------------------------------------------------------------

// ErrInvalidMigrationProof marks a single account's proof as unverifiable;
// collected per-account so a malformed shipment never poisons the rest.
var ErrInvalidMigrationProof = errors.New("state_store: invalid migration proof")

// PrepareMigration runs streams A and B: it collects outgoing-active
// proofs from act and outgoing-dormant proofs from full for every address
// in leaving, without yet mutating local state.
func (s *TStore) PrepareMigration(epoch uint64, target ShardID, self ShardID, leaving []Address) MigrationPayload {
	payload := MigrationPayload{
		SourceShard:   self,
		TargetShard:   target,
		Epoch:         epoch,
		ActiveProofs:  make(map[Address]MerklePath),
		DormantProofs: make(map[Address]MerklePath),
	}
	for _, addr := range leaving {
		if s.act.Get(addr) != nil {
			payload.ActiveProofs[addr] = s.act.GetProof(addr) // stream A
		} else if s.full.Get(addr) != nil {
			payload.DormantProofs[addr] = s.full.GetProof(addr) // stream B
		}
	}
	return payload
}

// CommitMigrationSend runs streams C, D and E on the sending side, once the
// proofs in payload have been durably shipped: delete the migrated keys
// from full (C); act implicitly becomes "act'" by the same deletions (D);
// any remaining active key whose address no longer maps to this shard by
// policy is demoted from act into full (E) — callers pass that set as
// demote.
func (s *TStore) CommitMigrationSend(payload MigrationPayload, demote []Address) {
	for addr := range payload.ActiveProofs {
		s.act.Delete(addr)
		s.full.Delete(addr)
	}
	for addr := range payload.DormantProofs {
		s.full.Delete(addr)
	}
	for _, addr := range demote {
		if raw := s.act.Get(addr); raw != nil {
			s.full.Insert(addr, raw)
			s.act.Delete(addr)
		}
	}
}

// ReceiveMigration runs stream F on the receiving side: every incoming
// proof is verified against the sender's pre-migration root before being
// inserted into the matching local tier. Invalid proofs are rejected
// individually; the valid portion is still applied.
func (s *TStore) ReceiveMigration(payload MigrationPayload, sourceActRoot, sourceFullRoot Hash) (invalid []Address) {
	for addr, proof := range payload.ActiveProofs {
		value, ok := VerifyProof(sourceActRoot, addr, proof)
		if !ok {
			invalid = append(invalid, addr)
			continue
		}
		s.act.Insert(addr, value)
	}
	for addr, proof := range payload.DormantProofs {
		value, ok := VerifyProof(sourceFullRoot, addr, proof)
		if !ok {
			invalid = append(invalid, addr)
			continue
		}
		s.full.Insert(addr, value)
	}
	return invalid
}
