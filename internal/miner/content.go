package miner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Hash is the SHA-256 digest of a content body.
type Hash [sha256.Size]byte

// HashContent returns the digest of text.
func HashContent(text []byte) Hash {
	return sha256.Sum256(text)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a hex encoded digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decoding hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash has %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// contentEntry is the slot reserved for one content hash. done is closed once the body
// is durable (err == nil) or could not be stored (err != nil).
type contentEntry struct {
	id   int64
	done chan struct{}
	err  error
}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// ContentStore maps file bodies to dense content ids and persists every distinct body
// exactly once. It is shared by all workers of a run and is safe for concurrent use.
//
// The hash lookup and the id reservation happen in one critical section, so two workers
// presenting identical bytes at the same time always agree on a single id. The body is
// written outside the lock; callers that hit a reserved but not yet durable entry wait
// for the write to finish before returning its id. An id whose write failed is handed
// to the next sighting of the same hash.
type ContentStore struct {
	vault     Vault
	database  Database
	encryptor Encryptor // nil stores plaintext
	sharder   Sharder
	logger    Logger
	metrics   Metrics

	mu      sync.Mutex
	entries  map[Hash]*contentEntry
	released map[Hash]int64
	next     int64

	sealing sync.WaitGroup
}

// NewContentStore creates an empty ContentStore. encryptor may be nil.
func NewContentStore(vault Vault, database Database, encryptor Encryptor, sharder Sharder, logger Logger, metrics Metrics) *ContentStore {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &ContentStore{
		vault:     vault,
		database:  database,
		encryptor: encryptor,
		sharder:   sharder,
		logger:    logger,
		metrics:   metrics,
		entries:   make(map[Hash]*contentEntry),
		released:  make(map[Hash]int64),
	}
}

// Preload seeds the hash index from the ledger so that bodies stored by earlier runs are
// not stored again. The next id continues after the highest recorded id.
func (s *ContentStore) Preload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.database.EachContent(func(c *ContentRecord) error {
		s.entries[c.Hash] = &contentEntry{id: c.ID, done: closedDone}
		if c.ID >= s.next {
			s.next = c.ID + 1
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading content index: %w", err)
	}
	s.logger.Info("content index loaded", "contents", len(s.entries), "next_id", s.next)
	return nil
}

// ContentID returns the content id of text, storing text if it has not been seen before.
// Storage failures are reported wrapped in ErrStorage.
func (s *ContentStore) ContentID(ctx context.Context, text []byte) (int64, error) {
	h := HashContent(text)

	s.mu.Lock()
	if e, ok := s.entries[h]; ok {
		s.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
		if e.err != nil {
			return -1, e.err
		}
		s.metrics.ContentDeduplicated()
		return e.id, nil
	}
	e := &contentEntry{done: make(chan struct{})}
	if id, ok := s.released[h]; ok {
		e.id = id
		delete(s.released, h)
	} else {
		e.id = s.next
		s.next++
	}
	s.entries[h] = e
	s.mu.Unlock()

	if err := s.store(h, e.id, text); err != nil {
		e.err = fmt.Errorf("%w: content %d: %w", ErrStorage, e.id, err)
		s.mu.Lock()
		delete(s.entries, h)
		s.released[h] = e.id
		s.mu.Unlock()
		close(e.done)
		return -1, e.err
	}
	close(e.done)

	if s.sharder.Closes(e.id) {
		s.sealing.Add(1)
		go func(id int64) {
			defer s.sealing.Done()
			s.sealShard(id)
		}(e.id)
	}
	return e.id, nil
}

// store writes the body of id to the vault and records it in the ledger.
// The vault write comes first, so a ledger row always has a body. A body whose ledger
// write failed is overwritten when its id is handed out again.
func (s *ContentStore) store(h Hash, id int64, text []byte) error {
	body := text
	encrypted := false
	if s.encryptor != nil {
		var buf bytes.Buffer
		if err := s.encryptor.Encrypt(bytes.NewReader(text), &buf); err != nil {
			return fmt.Errorf("encrypting: %w", err)
		}
		body = buf.Bytes()
		encrypted = true
	}

	if err := s.vault.PutContent(id, bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("writing to vault: %w", err)
	}

	err := s.database.RecordContent(&ContentRecord{
		Hash:      h,
		ID:        id,
		Size:      int64(len(text)),
		Encrypted: encrypted,
	})
	if err != nil {
		return fmt.Errorf("recording in ledger: %w", err)
	}

	s.metrics.ContentStored(int64(len(text)))
	s.logger.Debug("content stored", "content", id, "size", len(text))
	return nil
}

// sealShard runs when the last id of a shard directory has been written.
func (s *ContentStore) sealShard(id int64) {
	s.metrics.ShardSealed()
	s.logger.Info("content shard complete", "shard", s.sharder.Dir(id), "last_id", id)
}

// Len returns the number of distinct bodies known to the store.
func (s *ContentStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NextID returns the id the next new body will receive.
func (s *ContentStore) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Wait blocks until background shard hooks have finished.
func (s *ContentStore) Wait() {
	s.sealing.Wait()
}
