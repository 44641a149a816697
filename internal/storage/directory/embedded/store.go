package embedded

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/fxamacker/cbor/v2"

	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

const entryPrefix = "e/"

// storedEntry is the CBOR encoding of an entry under its normalised DN.
type storedEntry struct {
	DN         string        `cbor:"1,keyasint"`
	Attributes []storedValue `cbor:"2,keyasint"`
	// ExpiresAt is the TTL instant in Unix milliseconds, 0 when unbounded.
	ExpiresAt int64 `cbor:"3,keyasint,omitempty"`
}

type storedValue struct {
	Name   string   `cbor:"1,keyasint"`
	Values []string `cbor:"2,keyasint"`
}

func entryKey(dn string) []byte {
	return []byte(entryPrefix + directory.NormalizeDN(dn))
}

func encodeEntry(e *directory.Entry, expiresAt time.Time) ([]byte, error) {
	se := storedEntry{DN: e.DN, Attributes: make([]storedValue, len(e.Attributes))}
	for i, a := range e.Attributes {
		se.Attributes[i] = storedValue{Name: a.Name, Values: a.Values}
	}
	if !expiresAt.IsZero() {
		se.ExpiresAt = expiresAt.UnixMilli()
	}
	return cbor.Marshal(se)
}

func decodeEntry(data []byte) (*directory.Entry, time.Time, error) {
	var se storedEntry
	if err := cbor.Unmarshal(data, &se); err != nil {
		return nil, time.Time{}, fmt.Errorf("embedded: decode entry: %w", err)
	}
	e := &directory.Entry{DN: se.DN, Attributes: make([]directory.Attribute, len(se.Attributes))}
	for i, a := range se.Attributes {
		e.Attributes[i] = directory.Attribute{Name: a.Name, Values: a.Values}
	}
	var expiresAt time.Time
	if se.ExpiresAt > 0 {
		expiresAt = time.UnixMilli(se.ExpiresAt).UTC()
	}
	return e, expiresAt, nil
}

// expiry returns the TTL instant carried by e, or the zero time.
func (s *Server) expiry(e *directory.Entry) (time.Time, error) {
	if s.cfg.TTLAttribute == "" {
		return time.Time{}, nil
	}
	v := e.First(s.cfg.TTLAttribute)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := directory.ParseTime(v)
	if err != nil {
		return time.Time{}, directory.NewError(directory.ProtocolError, "%s: %v", s.cfg.TTLAttribute, err)
	}
	return t, nil
}

func (s *Server) expired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !s.now().Before(expiresAt)
}

// load returns the live entry stored under dn, or nil.
func (s *Server) load(txn *badger.Txn, dn string) (*directory.Entry, error) {
	item, err := txn.Get(entryKey(dn))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	e, expiresAt, err := decodeEntry(data)
	if err != nil {
		return nil, err
	}
	if s.expired(expiresAt) {
		return nil, nil
	}
	return e, nil
}

// store writes e, setting a Badger TTL when the entry carries one.
func (s *Server) store(txn *badger.Txn, e *directory.Entry) error {
	expiresAt, err := s.expiry(e)
	if err != nil {
		return err
	}
	data, err := encodeEntry(e, expiresAt)
	if err != nil {
		return err
	}
	be := badger.NewEntry(entryKey(e.DN), data)
	if !expiresAt.IsZero() {
		ttl := expiresAt.Sub(s.now())
		if ttl < time.Second {
			ttl = time.Second
		}
		be = be.WithTTL(ttl)
	}
	return txn.SetEntry(be)
}
