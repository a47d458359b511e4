package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/openchw/meshdoc/internal/identity"
	"github.com/openchw/meshdoc/pkg/model"
)

// Typed payloads for the documents this domain produces. Builders sign
// with the author key and the share key so the result passes ingestion
// on any replica.

// PatientRecord is an anonymized registration payload.
type PatientRecord struct {
	ID         string          `json:"-"`
	Name       string          `json:"name"`
	Age        int             `json:"-"`
	AgeGroup   string          `json:"age_group"`
	Gender     string          `json:"gender"`
	Village    string          `json:"village"`
	FamilySize int             `json:"family_size"`
	Registered string          `json:"registration_date"`
	HealthID   string          `json:"health_id"`
	Consent    json.RawMessage `json:"consent,omitempty"`
}

// Consultation is a visit record. Routine consultations travel on an
// ephemeral path and expire after a year.
type Consultation struct {
	ID          string   `json:"-"`
	PatientRef  string   `json:"patient_ref"`
	Symptoms    []string `json:"symptoms"`
	Diagnosis   string   `json:"diagnosis"`
	Treatment   []string `json:"treatment_given"`
	Medications []string `json:"medications_dispensed"`
	Referral    bool     `json:"referral_needed"`
	Type        string   `json:"consultation_type"`
	Sensitive   bool     `json:"-"`
}

// Referral tracks a patient handoff between facilities.
type Referral struct {
	ID         string `json:"-"`
	PatientRef string `json:"patient_ref"`
	Facility   string `json:"target_facility"`
	Urgency    string `json:"urgency_level"`
	Complaint  string `json:"chief_complaint"`
	Findings   string `json:"clinical_findings"`
	Diagnosis  string `json:"provisional_diagnosis"`
	Reason     string `json:"reason_for_referral"`
	Status     string `json:"referral_status"`
}

// Composer builds signed documents on behalf of the local worker.
type Composer struct {
	ring *identity.Keyring
	now  func() time.Time
}

// NewComposer wraps a keyring for document construction.
func NewComposer(ring *identity.Keyring) *Composer {
	return &Composer{ring: ring, now: time.Now}
}

func (c *Composer) seal(path, text, shareName string, expiry int64) (model.Document, error) {
	share, err := c.ring.Share(shareName)
	if err != nil {
		return model.Document{}, err
	}
	doc := model.Document{
		Author:    c.ring.Author.Address,
		Path:      path,
		Text:      text,
		TextHash:  model.HashText(text),
		Format:    model.FormatVersion,
		Timestamp: c.now().UnixMicro(),
		Share:     share.Address,
		Expiry:    expiry,
	}
	doc.Signature = c.ring.Author.SignDocument(doc)
	doc.ShareSignature = share.SignDocument(doc)
	return doc, nil
}

// PatientRegistration creates a registration document on the worker's
// owned patient path, shared at village scope.
func (c *Composer) PatientRegistration(rec PatientRecord) (model.Document, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.AgeGroup = model.AgeGroup(rec.Age)
	text, err := json.Marshal(rec)
	if err != nil {
		return model.Document{}, err
	}
	path := model.PatientRegistrationPath(c.ring.Author.Address, rec.ID)
	return c.seal(path, string(text), "village", 0)
}

// ConsultationRecord creates a visit document. Routine visits go on the
// ephemeral consultation path with a one-year expiry; sensitive visits
// travel on the medical share.
func (c *Composer) ConsultationRecord(v Consultation) (model.Document, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	text, err := json.Marshal(v)
	if err != nil {
		return model.Document{}, err
	}
	now := c.now()
	share := "village"
	if v.Sensitive {
		share = "medical"
	}
	if v.Type == "routine" {
		path := model.ConsultationEphemeralPath(c.ring.Author.Address, now.Year(), v.ID)
		expiry := now.Add(365 * 24 * time.Hour).UnixMicro()
		return c.seal(path, string(text), share, expiry)
	}
	path := model.ConsultationPath(c.ring.Author.Address, now.Year(), v.ID)
	return c.seal(path, string(text), share, 0)
}

// ReferralDocument creates a referral on the shared referral path at
// block scope.
func (c *Composer) ReferralDocument(r Referral) (model.Document, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	text, err := json.Marshal(r)
	if err != nil {
		return model.Document{}, err
	}
	now := c.now()
	path := model.ReferralPath(now.Year(), int(now.Month()), r.ID)
	return c.seal(path, string(text), "block", 0)
}

// EmergencyReport creates a co-owned emergency document. Emergency paths
// are ephemeral, so the report carries a 48-hour expiry.
func (c *Composer) EmergencyReport(facilityAddr, emergencyID, text string) (model.Document, error) {
	if emergencyID == "" {
		emergencyID = uuid.NewString()
	}
	now := c.now()
	path := model.EmergencyPath(facilityAddr, c.ring.Author.Address, emergencyID)
	return c.seal(path, text, "block", now.Add(48*time.Hour).UnixMicro())
}
