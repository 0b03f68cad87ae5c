package models

import "time"

// Email represents a raw message as stored by the import pipeline
type Email struct {
	MessageID    string    `db:"message_id" json:"message_id"`
	ThreadID     *string   `db:"thread_id" json:"thread_id,omitempty"`
	Sender       string    `db:"sender" json:"sender"`
	To           string    `db:"to_addr" json:"to"`
	Subject      string    `db:"subject" json:"subject"`
	BodyText     string    `db:"body_text" json:"body_text"`
	ReceivedAt   time.Time `db:"received_at" json:"received_at"`
	InReplyTo    *string   `db:"in_reply_to" json:"in_reply_to,omitempty"`
	References   *string   `db:"reference_ids" json:"references,omitempty"`
	UserAuthored bool      `db:"user_authored" json:"user_authored"` // true if sent by the mailbox owner
	DateMissing  bool      `db:"-" json:"-"`                         // no usable Date header
}

// EmailDocument is the unit of classification and scoring.
// Labels, confidences and reply metrics are derived at backfill time and persisted.
type EmailDocument struct {
	ID                string             `json:"id"`
	ThreadID          string             `json:"thread_id,omitempty"`
	Sender            string             `json:"sender"`
	Subject           string             `json:"subject"`
	BodyText          string             `json:"body_text,omitempty"`
	ReceivedAt        time.Time          `json:"received_at"`
	Labels            []string           `json:"labels"`
	LabelConfidence   map[string]float64 `json:"label_confidence"`
	LabelSource       string             `json:"label_source,omitempty"` // rules, model or default
	FirstUserReplyAt  *time.Time         `json:"first_user_reply_at,omitempty"`
	LastUserReplyAt   *time.Time         `json:"last_user_reply_at,omitempty"`
	UserReplyCount    int                `json:"user_reply_count"`
	Replied           bool               `json:"replied"`
	TTRHours          *float64           `json:"ttr_hours,omitempty"`
	DataQualityFlags  []string           `json:"data_quality_flags,omitempty"`
	ClassifierVersion string             `json:"classifier_version,omitempty"`
}

// ThreadReply is a user-authored message that belongs to the same thread as an inbound email
type ThreadReply struct {
	ThreadID  string    `db:"thread_id"`
	MessageID string    `db:"message_id"`
	InReplyTo *string   `db:"in_reply_to"`
	SentAt    time.Time `db:"received_at"`
}
