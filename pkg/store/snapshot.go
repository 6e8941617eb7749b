package store

import (
	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/cuemby/teeplane/pkg/apierrors"
	"github.com/cuemby/teeplane/pkg/digest"
	"github.com/cuemby/teeplane/pkg/types"
)

// snapshotEnvelope is the wire format written by Snapshot and read by
// Restore. It is consumed only by the HA-replication collaborator; there is
// no on-disk durability use of it.
type snapshotEnvelope struct {
	Version uint64                  `codec:"version"`
	Kinds   map[string]kindSnapshot `codec:"kinds"`
}

type kindSnapshot struct {
	Records []recordSnapshot `codec:"records"`
	Digest  string           `codec:"digest"`
}

type recordSnapshot struct {
	Meta    types.Metadata `codec:"meta"`
	Payload []byte         `codec:"payload"`
}

// msgpackHandle encodes maps with sorted keys, so re-encoding a decoded
// section in Restore reproduces the bytes Snapshot digested.
var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.Canonical = true
	return h
}()

// Snapshot encodes the entire store into a replicable byte blob. Each
// kind's record list is digested independently so Restore, after decoding
// the envelope, can tell which kind section is corrupt.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	kindNames := make([]string, 0, len(s.tables))
	tables := make(map[string]*kindTable, len(s.tables))
	for kind, t := range s.tables {
		kindNames = append(kindNames, kind)
		tables[kind] = t
	}
	s.mu.RUnlock()

	envelope := snapshotEnvelope{
		Version: s.version.Load(),
		Kinds:   make(map[string]kindSnapshot, len(kindNames)),
	}

	for _, kind := range kindNames {
		t := tables[kind]
		t.mu.RLock()
		records := make([]recordSnapshot, 0, len(t.byKey))
		for _, rec := range t.byKey {
			records = append(records, recordSnapshot{Meta: rec.meta, Payload: rec.payload})
		}
		t.mu.RUnlock()

		sectionBytes, err := encodeMsgpack(records)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "failed to encode kind section "+kind, err)
		}

		envelope.Kinds[kind] = kindSnapshot{
			Records: records,
			Digest:  string(digest.Of(sectionBytes)),
		}
	}

	out, err := encodeMsgpack(envelope)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "failed to encode snapshot", err)
	}
	return out, nil
}

// Restore replaces the store's contents with the snapshot in data. It is
// all-or-nothing: if any kind section fails its digest check, no table is
// modified.
func (s *Store) Restore(data []byte) error {
	var envelope snapshotEnvelope
	if err := decodeMsgpack(data, &envelope); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "failed to decode snapshot", err)
	}

	newTables := make(map[string]*kindTable, len(envelope.Kinds))
	for kind, section := range envelope.Kinds {
		sectionBytes, err := encodeMsgpack(section.Records)
		if err != nil {
			return apierrors.Wrap(apierrors.KindInternal, "failed to re-encode kind section "+kind, err)
		}
		want := string(digest.Of(sectionBytes))
		if want != section.Digest {
			return apierrors.IntegrityError("snapshot section digest mismatch for kind " + kind)
		}

		t := newKindTable()
		for _, rs := range section.Records {
			key := tableKey(rs.Meta.Namespace, rs.Meta.Name)
			t.byKey[key] = &record{meta: rs.Meta, payload: rs.Payload}
			t.indexAdd(key, rs.Meta.Namespace, rs.Meta.Labels)
			t.totalBytes += rs.Meta.Size
		}
		newTables[kind] = t
	}

	s.mu.Lock()
	s.tables = newTables
	s.mu.Unlock()

	s.version.Store(envelope.Version)

	// The change ring is not part of the replicated snapshot: a peer that
	// restores from one starts with no watch backlog, only current state.
	s.ring = newChangeRing(s.cfg.ChangeRingCapacity)

	return nil
}

func encodeMsgpack(v interface{}) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeMsgpack(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	return dec.Decode(v)
}
