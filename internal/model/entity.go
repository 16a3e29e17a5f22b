package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Collection names a remote document collection.
type Collection string

const (
	CollectionStock     Collection = "stock"
	CollectionCustomers Collection = "customers"
	CollectionReceipts  Collection = "receipts"
)

// ValidCollections lists the collections the core knows how to sync.
var ValidCollections = map[Collection]bool{
	CollectionStock:     true,
	CollectionCustomers: true,
	CollectionReceipts:  true,
}

// ParseCollection validates a collection name.
func ParseCollection(s string) (Collection, error) {
	c := Collection(strings.ToLower(strings.TrimSpace(s)))
	if !ValidCollections[c] {
		return "", NewValidationError("collection", fmt.Sprintf("unknown collection %q", s))
	}
	return c, nil
}

// EntityRef addresses one document in the remote system of record.
type EntityRef struct {
	Collection Collection `json:"collection"`
	ID         string     `json:"id"`
}

// Ref builds a normalized EntityRef.
func Ref(c Collection, id string) EntityRef {
	return EntityRef{Collection: c, ID: NormalizeID(id)}
}

func (r EntityRef) String() string {
	return string(r.Collection) + "/" + r.ID
}

// NormalizeID trims and NFC-normalizes an identifier so that the same id typed
// on different keyboards or scanned from different labels maps to one record.
func NormalizeID(id string) string {
	return NormalizeText(id)
}

// NormalizeText trims and NFC-normalizes free text.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Document is an entity as returned by the remote system of record.
type Document struct {
	Ref       EntityRef       `json:"ref"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Snapshot is the Local Ledger's cached copy of an entity.
//
// Data holds the entity body as a JSON object. Field-level merges operate on
// its top-level keys.
type Snapshot struct {
	Ref             EntityRef       `json:"ref"`
	Data            json.RawMessage `json:"data"`
	RemoteUpdatedAt time.Time       `json:"remote_updated_at,omitempty"`
	Inconsistent    bool            `json:"inconsistent"`
	UpdatedAt       time.Time       `json:"updated_at"`

	// ForeignUpdatedAt is the latest remote updated_at seen that this
	// terminal did not produce. OwnWriteAt is the updated_at of its last
	// confirmed write. Together they let last-write-wins tell a write by
	// another client apart from our own.
	ForeignUpdatedAt time.Time `json:"-"`
	OwnWriteAt       time.Time `json:"-"`
}

// Stock decodes the snapshot body as a StockRecord.
func (s Snapshot) Stock() (StockRecord, error) {
	var rec StockRecord
	if err := json.Unmarshal(s.Data, &rec); err != nil {
		return StockRecord{}, fmt.Errorf("decode stock %s: %w", s.Ref.ID, err)
	}
	return rec, nil
}

// Customer decodes the snapshot body as a CustomerRecord.
func (s Snapshot) Customer() (CustomerRecord, error) {
	var rec CustomerRecord
	if err := json.Unmarshal(s.Data, &rec); err != nil {
		return CustomerRecord{}, fmt.Errorf("decode customer %s: %w", s.Ref.ID, err)
	}
	return rec, nil
}

// Receipt decodes the snapshot body as a Receipt.
func (s Snapshot) Receipt() (Receipt, error) {
	var rec Receipt
	if err := json.Unmarshal(s.Data, &rec); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt %s: %w", s.Ref.ID, err)
	}
	return rec, nil
}

// Fields decodes a JSON object into its top-level fields.
func Fields(data json.RawMessage) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return fields, nil
}
