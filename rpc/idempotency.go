package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	headerIdempotency     = "Idempotency-Key"
	headerIdempotencyHit  = "X-Idempotency-Cache"
	defaultIdempotencyTTL = 24 * time.Hour
	// A claim older than this belongs to a request that never finished and
	// may be taken over.
	defaultInFlightTTL = time.Minute
	kindInFlight       = "RequestInFlight"
)

var bucketIdempotency = []byte("idempotency")

// errInFlight is returned by Reserve while another request holds the key.
var errInFlight = errors.New("idempotency: request with this key in progress")

// IdempotencyRecord is a cached response for a replayed request.
type IdempotencyRecord struct {
	StatusCode int       `json:"statusCode"`
	Pending    bool      `json:"pending,omitempty"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// IdempotencyStore persists responses of value-moving requests keyed by
// caller, path and the client supplied Idempotency-Key.
type IdempotencyStore struct {
	db       *bolt.DB
	ttl      time.Duration
	inFlight time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// OpenIdempotencyStore opens (creating if needed) the bolt file at path.
func OpenIdempotencyStore(path string, ttl time.Duration, logger *slog.Logger) (*IdempotencyStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("idempotency: path required")
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("idempotency: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &IdempotencyStore{db: db, ttl: ttl, inFlight: defaultInFlightTTL, now: time.Now, logger: logger}, nil
}

// Close releases the bolt handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the live record stored under key. Expired records are removed.
func (s *IdempotencyStore) Get(key string) (IdempotencyRecord, bool, error) {
	var record IdempotencyRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if s.now().After(record.ExpiresAt) {
			record = IdempotencyRecord{}
			return bucket.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if record.Pending || record.StatusCode == 0 {
		return IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

// Reserve claims key for a request about to run. The lookup and the claim
// happen in one bolt transaction, so of several concurrent requests with the
// same key exactly one gets the claim. It reports a live cached response when
// one exists and errInFlight while another request holds the claim.
func (s *IdempotencyStore) Reserve(key string) (IdempotencyRecord, bool, error) {
	var cached IdempotencyRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		now := s.now()
		if raw := bucket.Get([]byte(key)); raw != nil {
			var record IdempotencyRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return err
			}
			if !now.After(record.ExpiresAt) {
				if record.Pending {
					return errInFlight
				}
				cached = record
				return nil
			}
		}
		claim, err := json.Marshal(IdempotencyRecord{Pending: true, StoredAt: now, ExpiresAt: now.Add(s.inFlight)})
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), claim)
	})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return cached, cached.StatusCode != 0, nil
}

// Release drops the claim on key so a retry can run the request again.
func (s *IdempotencyStore) Release(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Delete([]byte(key))
	})
}

// Put stores a response under key.
func (s *IdempotencyStore) Put(key string, status int, body []byte) error {
	now := s.now()
	payload, err := json.Marshal(IdempotencyRecord{
		StatusCode: status,
		Body:       body,
		StoredAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put([]byte(key), payload)
	})
}

// Middleware replays cached responses for repeated Idempotency-Key values.
// Requests without the header pass straight through. A duplicate arriving
// while the first request still runs is rejected with 409. Server errors are
// not cached so a retry can still succeed.
func (s *IdempotencyStore) Middleware(next http.Handler) http.Handler {
	if s == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idem := strings.TrimSpace(r.Header.Get(headerIdempotency))
		if idem == "" {
			next.ServeHTTP(w, r)
			return
		}
		caller, _ := CallerFromContext(r.Context())
		key := idempotencyKey(caller.String(), r.Method, r.URL.Path, idem)
		record, found, err := s.Reserve(key)
		switch {
		case errors.Is(err, errInFlight):
			writeStatusError(w, http.StatusConflict, kindInFlight, err.Error())
			return
		case err != nil:
			s.logger.Warn("idempotency lookup failed", "error", err)
			next.ServeHTTP(w, r)
			return
		case found:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerIdempotencyHit, "hit")
			w.WriteHeader(record.StatusCode)
			_, _ = w.Write(record.Body)
			return
		}

		stored := false
		defer func() {
			if stored {
				return
			}
			if err := s.Release(key); err != nil {
				s.logger.Warn("idempotency release failed", "error", err)
			}
		}()
		rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= http.StatusInternalServerError {
			return
		}
		if err := s.Put(key, rec.status, rec.body.Bytes()); err != nil {
			s.logger.Warn("idempotency store failed", "error", err)
			return
		}
		stored = true
	})
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

func idempotencyKey(caller, method, path, idem string) string {
	return fmt.Sprintf("%s|%s|%s|%s", caller, method, path, idem)
}
