package poold

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"
)

var bucketIdempotency = []byte("idempotency")

const maxIdempotencyKey = 128

// IdempotencyRecord stores the cached response for an idempotency key.
type IdempotencyRecord struct {
	RequestHash string    `json:"requestHash"`
	StatusCode  int       `json:"statusCode"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IdempotencyStore persists responses in bbolt so retried mutations return
// the original outcome instead of executing again.
type IdempotencyStore struct {
	db       *bolt.DB
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
	inflight map[string]struct{}

	// onMiss runs between a lookup miss and claiming the key.
	onMiss func(key string)
}

// OpenIdempotencyStore opens or creates the bbolt file at path.
func OpenIdempotencyStore(path string, ttl time.Duration, options *bolt.Options) (*IdempotencyStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("idempotency: path required")
	}
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{db: db, ttl: ttl, now: time.Now, inflight: make(map[string]struct{})}, nil
}

// Close releases the database file.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached response for a key when it has not expired.
func (s *IdempotencyStore) Get(key string) (IdempotencyRecord, bool, error) {
	var record IdempotencyRecord
	now := s.now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if now.After(record.ExpiresAt) {
			record = IdempotencyRecord{}
			return bucket.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if record.StatusCode == 0 {
		return IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

// Put stores the response for key.
func (s *IdempotencyStore) Put(key string, record IdempotencyRecord) error {
	now := s.now()
	record.StoredAt = now
	record.ExpiresAt = now.Add(s.ttl)
	return s.db.Update(func(tx *bolt.Tx) error {
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIdempotency).Put([]byte(key), payload)
	})
}

// Prune deletes every expired record and reports how many were removed.
func (s *IdempotencyStore) Prune() (int, error) {
	now := s.now()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var record IdempotencyRecord
			if err := json.Unmarshal(v, &record); err != nil || now.After(record.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *IdempotencyStore) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *IdempotencyStore) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}

// Middleware replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the authenticated caller and route, and a key reused
// with a different body is rejected.
func (s *IdempotencyStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key == "" || s == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			writeError(w, http.StatusBadRequest, "invalid_argument", "idempotency key too long")
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "read body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		sum := blake3.Sum256(body)
		requestHash := hex.EncodeToString(sum[:])

		caller, _ := CallerFromContext(r.Context())
		scoped := caller.Hex() + "|" + r.Method + " " + r.URL.Path + "|" + key

		if s.replay(w, scoped, requestHash) {
			return
		}
		if s.onMiss != nil {
			s.onMiss(scoped)
		}
		if !s.acquire(scoped) {
			writeError(w, http.StatusConflict, "invalid_argument", "request with this idempotency key is in progress")
			return
		}
		defer s.release(scoped)
		// A duplicate may have finished between the miss and the claim.
		if s.replay(w, scoped, requestHash) {
			return
		}

		recorder := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			return
		}
		_ = s.Put(scoped, IdempotencyRecord{RequestHash: requestHash, StatusCode: status, Body: recorder.buf.Bytes()})
	})
}

// replay writes the stored outcome for key and reports whether the request
// was answered.
func (s *IdempotencyStore) replay(w http.ResponseWriter, key, requestHash string) bool {
	record, ok, err := s.Get(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "idempotency lookup failed")
		return true
	}
	if !ok {
		return false
	}
	if record.RequestHash != requestHash {
		writeError(w, http.StatusUnprocessableEntity, "invalid_argument", "idempotency key reused with a different request")
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(record.StatusCode)
	_, _ = w.Write(record.Body)
	return true
}

// responseRecorder captures the response for idempotent operations.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
