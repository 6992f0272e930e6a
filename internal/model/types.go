package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind is the classified category of a notification.
type Kind string

const (
	KindNewJob        Kind = "new-job"
	KindOfferAccepted Kind = "offer-accepted"
	KindOfferRejected Kind = "offer-rejected"
	KindJobCancelled  Kind = "job-cancelled"
	KindGeneric       Kind = "generic"
)

// Wire tags sent by the marketplace server in Envelope.Type.
const (
	TypeNewJob        = "new_job"
	TypeOfferAccepted = "offer_accepted"
	TypeOfferRejected = "offer_rejected"
	TypeJobCancelled  = "job_cancelled"
)

var kindByType = map[string]Kind{
	TypeNewJob:        KindNewJob,
	TypeOfferAccepted: KindOfferAccepted,
	TypeOfferRejected: KindOfferRejected,
	TypeJobCancelled:  KindJobCancelled,
}

// Classify maps a wire tag to a Kind. Matching is case-sensitive and
// every unknown tag (including "") maps to KindGeneric.
func Classify(tag string) Kind {
	if k, ok := kindByType[tag]; ok {
		return k
	}
	return KindGeneric
}

// -----------------------------------------------------------------------------
// Envelope
// -----------------------------------------------------------------------------

// Envelope is the {type, data} wrapper around every inbound notification.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses raw bytes into an Envelope. It never fails: input that is
// not a JSON object is kept as a JSON string in Data with an empty Type.
func DecodeEnvelope(raw []byte) Envelope {
	var env Envelope
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &env); err == nil {
			return env
		}
	}

	quoted, _ := json.Marshal(string(raw))
	return Envelope{Data: quoted}
}

// -----------------------------------------------------------------------------
// Notification
// -----------------------------------------------------------------------------

// Notification is one classified inbound event.
type Notification struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Envelope   Envelope  `json:"envelope"`
	Read       bool      `json:"read"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewNotification classifies env and assigns an ID.
func NewNotification(env Envelope, receivedAt time.Time) Notification {
	return Notification{
		ID:         notificationID(env.Data),
		Kind:       Classify(env.Type),
		Envelope:   env,
		ReceivedAt: receivedAt,
	}
}

// notificationID prefers the server's id so that read state can be keyed on it.
func notificationID(data json.RawMessage) string {
	var ids struct {
		ID      string `json:"id"`
		MongoID string `json:"_id"`
		NotifID string `json:"notificationId"`
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &ids)
	}
	switch {
	case ids.NotifID != "":
		return ids.NotifID
	case ids.ID != "":
		return ids.ID
	case ids.MongoID != "":
		return ids.MongoID
	}
	return uuid.New().String()
}

// -----------------------------------------------------------------------------
// Payloads
// -----------------------------------------------------------------------------

// DeviceInfo identifies the device a job is about.
type DeviceInfo struct {
	Brand string `json:"brand"`
	Model string `json:"model"`
	Type  string `json:"type,omitempty"` // "phone", "laptop", ...
}

// Budget is the customer's price range.
type Budget struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Location is where the repair takes place.
type Location struct {
	City    string `json:"city"`
	Area    string `json:"area,omitempty"`
	Address string `json:"address,omitempty"`
}

// NewJob is the payload of a new_job notification.
type NewJob struct {
	JobID       string     `json:"jobId,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	DeviceInfo  DeviceInfo `json:"deviceInfo"`
	Budget      Budget     `json:"budget"`
	Location    Location   `json:"location"`
}

// OfferUpdate is the payload of offer_accepted and offer_rejected notifications.
type OfferUpdate struct {
	JobID        string `json:"jobId,omitempty"`
	OfferID      string `json:"offerId,omitempty"`
	CustomerName string `json:"customerName,omitempty"`
	Message      string `json:"message,omitempty"`
}

// JobCancelled is the payload of a job_cancelled notification.
type JobCancelled struct {
	JobID   string `json:"jobId,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Generic is the subset of fields read from unclassified payloads.
type Generic struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewJob decodes the payload as a NewJob. ok is false for other kinds or bad data.
func (n Notification) NewJob() (NewJob, bool) {
	var p NewJob
	return p, n.Kind == KindNewJob && decode(n.Envelope.Data, &p)
}

// OfferUpdate decodes the payload of an offer notification.
func (n Notification) OfferUpdate() (OfferUpdate, bool) {
	var p OfferUpdate
	ok := n.Kind == KindOfferAccepted || n.Kind == KindOfferRejected
	return p, ok && decode(n.Envelope.Data, &p)
}

// JobCancelled decodes the payload of a job_cancelled notification.
func (n Notification) JobCancelled() (JobCancelled, bool) {
	var p JobCancelled
	return p, n.Kind == KindJobCancelled && decode(n.Envelope.Data, &p)
}

// Generic decodes title/message from any payload.
func (n Notification) Generic() (Generic, bool) {
	var p Generic
	return p, decode(n.Envelope.Data, &p)
}

func decode(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}
