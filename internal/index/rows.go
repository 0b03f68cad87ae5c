package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"mailrank/internal/models"
	"mailrank/internal/replies"
)

const emailColumns = `message_id, thread_id, sender, to_addr, subject, body_text, received_at,
	in_reply_to, reference_ids, user_authored, labels, label_confidence, label_source,
	first_user_reply_at, last_user_reply_at, user_reply_count, replied, ttr_hours,
	data_quality_flags, classifier_version`

// emailRow mirrors one row of the emails table; derived columns are NULL until backfilled
type emailRow struct {
	MessageID         string          `db:"message_id"`
	ThreadID          sql.NullString  `db:"thread_id"`
	Sender            string          `db:"sender"`
	ToAddr            sql.NullString  `db:"to_addr"`
	Subject           string          `db:"subject"`
	BodyText          string          `db:"body_text"`
	ReceivedAt        sql.NullTime    `db:"received_at"`
	InReplyTo         sql.NullString  `db:"in_reply_to"`
	References        sql.NullString  `db:"reference_ids"`
	UserAuthored      bool            `db:"user_authored"`
	Labels            sql.NullString  `db:"labels"`
	LabelConfidence   sql.NullString  `db:"label_confidence"`
	LabelSource       sql.NullString  `db:"label_source"`
	FirstUserReplyAt  sql.NullTime    `db:"first_user_reply_at"`
	LastUserReplyAt   sql.NullTime    `db:"last_user_reply_at"`
	UserReplyCount    int             `db:"user_reply_count"`
	Replied           bool            `db:"replied"`
	TTRHours          sql.NullFloat64 `db:"ttr_hours"`
	DataQualityFlags  sql.NullString  `db:"data_quality_flags"`
	ClassifierVersion sql.NullString  `db:"classifier_version"`
	TextRelevance     float64         `db:"text_relevance"`
}

func (r emailRow) email() models.Email {
	e := models.Email{
		MessageID:    r.MessageID,
		ThreadID:     stringPtr(r.ThreadID),
		Sender:       r.Sender,
		To:           r.ToAddr.String,
		Subject:      r.Subject,
		BodyText:     r.BodyText,
		InReplyTo:    stringPtr(r.InReplyTo),
		References:   stringPtr(r.References),
		UserAuthored: r.UserAuthored,
	}
	if r.ReceivedAt.Valid {
		e.ReceivedAt = replies.AssumeUTC(r.ReceivedAt.Time)
	} else {
		e.DateMissing = true
	}
	return e
}

func (r emailRow) document() (models.EmailDocument, error) {
	doc := models.EmailDocument{
		ID:                r.MessageID,
		ThreadID:          r.ThreadID.String,
		Sender:            r.Sender,
		Subject:           r.Subject,
		BodyText:          r.BodyText,
		LabelSource:       r.LabelSource.String,
		FirstUserReplyAt:  timePtr(r.FirstUserReplyAt),
		LastUserReplyAt:   timePtr(r.LastUserReplyAt),
		UserReplyCount:    r.UserReplyCount,
		Replied:           r.Replied,
		ClassifierVersion: r.ClassifierVersion.String,
	}
	if r.ReceivedAt.Valid {
		doc.ReceivedAt = replies.AssumeUTC(r.ReceivedAt.Time)
	}
	if r.TTRHours.Valid {
		ttr := r.TTRHours.Float64
		doc.TTRHours = &ttr
	}

	if err := decodeJSONColumn(r.Labels, &doc.Labels); err != nil {
		return doc, fmt.Errorf("invalid labels for %s: %w", r.MessageID, err)
	}
	if err := decodeJSONColumn(r.LabelConfidence, &doc.LabelConfidence); err != nil {
		return doc, fmt.Errorf("invalid label_confidence for %s: %w", r.MessageID, err)
	}
	if err := decodeJSONColumn(r.DataQualityFlags, &doc.DataQualityFlags); err != nil {
		return doc, fmt.Errorf("invalid data_quality_flags for %s: %w", r.MessageID, err)
	}
	return doc, nil
}

func decodeJSONColumn(col sql.NullString, dest interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}

func encodeJSONColumn(v interface{}, empty bool) (interface{}, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := replies.AssumeUTC(t.Time)
	return &v
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return nullTime(*t)
}

func nullFloatPtr(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullStringPtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
