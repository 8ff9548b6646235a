// core/storage.go
package core

// Storage subsystem — chunked content-addressed gateway wrapper with an
// on-disk LRU cache. Backs the on-disk pages described in spec §6:
// `store/` (batch/header pages keyed by digest) and `ftstore/` (full-trie
// pages). Thread-safe.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	logrus "github.com/sirupsen/logrus"
)

//---------------------------------------------------------------------
// LRU on-disk cache implementation
//---------------------------------------------------------------------

const defaultCacheEntries = 10_000

func newDiskLRU(dir string, maxEntries int) (*diskLRU, error) {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &diskLRU{
		dir:   dir,
		max:   maxEntries,
		index: make(map[string]*diskEntry),
	}, nil
}

func (l *diskLRU) put(key string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.index[key]; ok {
		ent.at = time.Now()
		return nil // already cached
	}

	if len(l.index) >= l.max && len(l.order) > 0 {
		// evict the entry whose last access (get or re-put) is oldest
		oldestIdx := 0
		for i, e := range l.order {
			if e.at.Before(l.order[oldestIdx].at) {
				oldestIdx = i
			}
		}
		oldest := l.order[oldestIdx]
		_ = os.Remove(oldest.path)
		delete(l.index, filepath.Base(oldest.path))
		l.order = append(l.order[:oldestIdx], l.order[oldestIdx+1:]...)
	}

	p := filepath.Join(l.dir, key)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return err
	}
	ent := &diskEntry{path: p, size: int64(len(data)), at: time.Now()}
	l.index[key] = ent
	l.order = append(l.order, ent)
	return nil
}

func (l *diskLRU) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ent, ok := l.index[key]
	if !ok {
		return nil, false
	}
	ent.at = time.Now()

	b, err := os.ReadFile(ent.path)
	if err != nil {
		return nil, false
	}
	return b, true
}

//---------------------------------------------------------------------
// Storage struct
//---------------------------------------------------------------------

// NewStorage wires a Storage instance fronting an optional IPFS-style
// gateway with a local LRU page cache. Passing an empty gateway URL keeps
// the store purely local (cache-only pin/retrieve), which is sufficient
// for the single-process deployments this layer targets.
func NewStorage(cfg *StorageConfig, lg *logrus.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, errors.New("storage config nil")
	}
	cache, err := newDiskLRU(cfg.CacheDir, cfg.CacheSizeEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	s := &Storage{
		logger:      lg,
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.GatewayTimeout},
		cache:       cache,
		pinEndpoint: cfg.IPFSGateway + "/api/v0/add?pin=true",
		getEndpoint: cfg.IPFSGateway + "/ipfs/",
	}
	lg.Infof("storage: gateway %q cache %s", cfg.IPFSGateway, cfg.CacheDir)
	return s, nil
}

// Pin stores a page (a batch, header or trie-node blob) and returns its
// content identifier together with its byte length.
func (s *Storage) Pin(ctx context.Context, data []byte) (string, int64, error) {
	encodedMH, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", 0, err
	}
	c := cid.NewCidV1(cid.Raw, encodedMH)
	cidStr := c.String()

	if _, ok := s.cache.get(cidStr); ok {
		return cidStr, int64(len(data)), nil
	}
	if err := s.cache.put(cidStr, data); err != nil {
		return "", 0, err
	}

	if s.cfg.IPFSGateway != "" {
		client, _ := s.client.(*http.Client)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.pinEndpoint, bytes.NewReader(data))
		if err != nil {
			return "", 0, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		resp, err := client.Do(req)
		if err != nil {
			s.logger.Warnf("storage: gateway pin failed, serving from local cache only: %v", err)
			return cidStr, int64(len(data)), nil
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			s.logger.Warnf("storage: gateway pin %d: %s", resp.StatusCode, string(b))
		}
	}

	s.logger.Debugf("pinned page %s (%d bytes)", cidStr, len(data))
	return cidStr, int64(len(data)), nil
}

// Retrieve returns data for cidStr (cache → gateway fallback).
func (s *Storage) Retrieve(ctx context.Context, cidStr string) ([]byte, error) {
	if b, ok := s.cache.get(cidStr); ok {
		return b, nil
	}
	if s.cfg.IPFSGateway == "" {
		return nil, fmt.Errorf("storage: page %s not cached and no gateway configured", cidStr)
	}

	client, _ := s.client.(*http.Client)
	url := s.getEndpoint + cidStr
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 128))
		return nil, fmt.Errorf("gateway fetch %d: %s", resp.StatusCode, string(b))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	_ = s.cache.put(cidStr, data)
	s.logger.Debugf("retrieved page %s (%d bytes)", cidStr, len(data))
	return data, nil
}

// PinJSON is a convenience wrapper for pages that are JSON-encoded structs
// (migration payloads, committee snapshots).
func (s *Storage) PinJSON(ctx context.Context, v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	cidStr, _, err := s.Pin(ctx, raw)
	return cidStr, err
}
