package badger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/poiesic/bizkb/storage"
)

// rowRecord is the stored form of a row. Field names follow the
// index-store schema shared with remote backends.
type rowRecord struct {
	PK     int64     `json:"pk_id"`
	Text   string    `json:"text"`
	DocID  string    `json:"doc_id,omitempty"`
	Vector []float32 `json:"vector"`
}

type collectionMeta struct {
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
}

func marshalRow(r *rowRecord) ([]byte, error) {
	bs, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return bs, nil
}

func unmarshalRow(bs []byte) (*rowRecord, error) {
	var r rowRecord
	if err := json.Unmarshal(bs, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return &r, nil
}

func marshalMeta(m *collectionMeta) ([]byte, error) {
	bs, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return bs, nil
}

func unmarshalMeta(bs []byte) (*collectionMeta, error) {
	var m collectionMeta
	if err := json.Unmarshal(bs, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return &m, nil
}
