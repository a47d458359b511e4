package model

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/zeebo/blake3"
)

// FormatVersion is the only document format this replica understands.
// Documents carrying any other format tag are rejected at ingestion.
const FormatVersion = "es.5"

// Path markers. An ownership marker binds an identity as the authorized
// writer beneath it; an ephemeral marker forces a mandatory expiry.
const (
	OwnershipMarker = "~"
	EphemeralMarker = "!"
)

// Document is the unit of replication: an author-scoped, signed,
// content-addressed record. For a given (author, path) pair at most one
// document is live at any time — the one with the greatest timestamp.
type Document struct {
	// Author is the public-key-derived address of the writing identity.
	Author string `json:"author"`

	// Path is the hierarchical key encoding ownership and category.
	Path string `json:"path"`

	// Text is the opaque payload, typically JSON.
	Text string `json:"text"`

	// TextHash is the base64 BLAKE3 digest of Text.
	TextHash string `json:"textHash"`

	// Format is the wire format tag, fixed at FormatVersion.
	Format string `json:"format"`

	// Signature binds (author, path, timestamp, textHash) to the author key.
	Signature string `json:"signature"`

	// Timestamp is the authoring replica's local clock in microseconds.
	// It is the logical clock for last-writer-wins resolution.
	Timestamp int64 `json:"timestamp"`

	// Share is the named replication scope this document travels on.
	Share string `json:"share"`

	// ShareSignature binds the same fields to the share key.
	ShareSignature string `json:"shareSignature"`

	// Expiry, when set, tombstones the document after this time (µs).
	Expiry int64 `json:"expiry,omitempty"`

	// Attachment fields are carried through unmodified; this core does not
	// interpret them.
	AttachmentHash string `json:"attachmentHash,omitempty"`
	AttachmentSize int64  `json:"attachmentSize,omitempty"`
}

// Key returns the identity of the LWW register this document writes to.
func (d Document) Key() string {
	return d.Author + ":" + d.Path
}

// Expired reports whether the document is tombstoned at the given time (µs).
func (d Document) Expired(nowMicros int64) bool {
	return d.Expiry != 0 && d.Expiry <= nowMicros
}

// IsEphemeral reports whether any path segment carries the ephemeral
// marker, which makes Expiry mandatory.
func (d Document) IsEphemeral() bool {
	for _, seg := range strings.Split(d.Path, "/") {
		if strings.HasSuffix(seg, EphemeralMarker) && seg != EphemeralMarker {
			return true
		}
	}
	return false
}

// IsEmergency reports whether the document belongs to the emergency path
// class. Both the plain and ephemeral spellings of the category count.
func (d Document) IsEmergency() bool {
	return strings.HasPrefix(d.Path, "/emergency/") || strings.HasPrefix(d.Path, "/emergency"+EphemeralMarker+"/")
}

// Decode unmarshals the payload. Returns nil for non-JSON payloads;
// callers treat that as "no decoded fields available".
func (d Document) Decode() map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(d.Text), &m); err != nil {
		return nil
	}
	return m
}

// ReferralStatus extracts the referral_status payload field, or "".
func (d Document) ReferralStatus() string {
	m := d.Decode()
	if m == nil {
		return ""
	}
	s, _ := m["referral_status"].(string)
	return s
}

// Urgency extracts the urgency_level payload field, or "".
func (d Document) Urgency() string {
	m := d.Decode()
	if m == nil {
		return ""
	}
	s, _ := m["urgency_level"].(string)
	return s
}

// HashText returns the base64 BLAKE3 digest used for content addressing.
// Equal content always yields an equal hash, so replicas can verify
// deduplication without comparing payloads.
func HashText(text string) string {
	sum := blake3.Sum256([]byte(text))
	return base64.StdEncoding.EncodeToString(sum[:])
}
