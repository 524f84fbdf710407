package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the acquisition path that produced a signal.
type Source string

const (
	SourcePoll     Source = "poll"
	SourcePush     Source = "push"
	SourceBackfill Source = "backfill"
	SourceFullScan Source = "full_scan"
	SourceManual   Source = "manual"
)

// MediaType classifies the upstream message body.
type MediaType string

const (
	MediaNone  MediaType = "none"
	MediaPhoto MediaType = "photo"
	MediaOther MediaType = "other"
)

// DefaultSignalType is stamped on signals that carry no explicit type.
const DefaultSignalType = "day_trade"

// RawMessage is one unit of upstream content. It is never stored as-is;
// only the derived ParsedSignal or failure outcome survives processing.
type RawMessage struct {
	ChannelID  string
	MessageID  string
	Text       string
	Caption    string
	Sender     string
	MediaType  MediaType
	PostedAt   time.Time
	ReceivedAt time.Time
}

// Content returns the message body: text, falling back to the media caption.
func (m *RawMessage) Content() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// ParsedSignal is the structured extraction of one trading alert.
// (RawMessage, Channel) is the idempotency key: two signals with the same
// normalized text and channel are the same logical signal regardless of
// which acquisition path produced them.
type ParsedSignal struct {
	ID          string
	Asset       string
	BuyMin      *decimal.Decimal
	BuyMax      *decimal.Decimal
	Target1     *decimal.Decimal
	Target2     *decimal.Decimal
	TargetFinal *decimal.Decimal
	Stop        *decimal.Decimal
	SignalType  string
	Channel     string
	Source      Source
	RawMessage  string
	EventAt     time.Time
	IngestedAt  time.Time
}

// DedupKey returns the hex SHA-256 of the normalized raw text plus channel.
func (s *ParsedSignal) DedupKey() string {
	h := sha256.New()
	h.Write([]byte(s.RawMessage))
	h.Write([]byte{0})
	h.Write([]byte(s.Channel))
	return hex.EncodeToString(h.Sum(nil))
}

// HasBuyRange reports whether both buy bounds were extracted.
func (s *ParsedSignal) HasBuyRange() bool {
	return s.BuyMin != nil && s.BuyMax != nil
}

// HasTarget reports whether any target was extracted.
func (s *ParsedSignal) HasTarget() bool {
	return s.Target1 != nil || s.Target2 != nil || s.TargetFinal != nil
}

// MarshalJSON emits every field under both snake_case and camelCase keys,
// since downstream consumers expect either convention.
func (s *ParsedSignal) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 26)
	put := func(snake, camel string, v any) {
		out[snake] = v
		out[camel] = v
	}
	dec := func(d *decimal.Decimal) any {
		if d == nil {
			return nil
		}
		return json.Number(d.String())
	}
	put("id", "id", s.ID)
	put("asset", "asset", s.Asset)
	put("buy_min", "buyMin", dec(s.BuyMin))
	put("buy_max", "buyMax", dec(s.BuyMax))
	put("target_1", "target1", dec(s.Target1))
	put("target_2", "target2", dec(s.Target2))
	put("target_final", "targetFinal", dec(s.TargetFinal))
	put("stop", "stop", dec(s.Stop))
	put("signal_type", "signalType", s.SignalType)
	put("channel", "channel", s.Channel)
	put("source", "source", string(s.Source))
	put("raw_message", "rawMessage", s.RawMessage)
	put("event_at", "eventAt", s.EventAt.UTC().Format(time.RFC3339))
	put("ingested_at", "ingestedAt", s.IngestedAt.UTC().Format(time.RFC3339))
	return json.Marshal(out)
}

// Outcome is the per-message processing result. Outcomes are values, not
// errors: a failed message never aborts the batch it arrived in.
type Outcome string

const (
	OutcomePublished     Outcome = "published"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeIncomplete    Outcome = "ignored_incomplete"
	OutcomeInvalidAsset  Outcome = "ignored_invalid_asset"
	OutcomeParseFailed   Outcome = "parse_failed"
	OutcomeEmptySkipped  Outcome = "empty_skipped"
	OutcomeFailedTransit Outcome = "failed_transient"
)

// Terminal reports whether the message should be acknowledged upstream.
// Transient failures are left unacked so the next poll cycle retries them.
func (o Outcome) Terminal() bool {
	return o != OutcomeFailedTransit
}

// Checkpoint marks backfill progress. Once Completed is true the backfill
// worker must never run again against the same store.
type Checkpoint struct {
	Completed   bool
	CompletedAt *time.Time
	TotalSynced int64
	BatchesRun  int
	DurationMs  int64
}

// BulkSyncResult is one page of an upstream history sync.
type BulkSyncResult struct {
	MessagesSynced int
	HasMore        bool
}

// MessageEvent is the bus payload announcing one newly observed upstream
// message. Field names follow the wire format published by the relay.
type MessageEvent struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Caption   string `json:"caption"`
	Sender    string `json:"sender"`
	MediaType string `json:"media_type"`
	PostedAt  int64  `json:"posted_at"` // unix seconds
}

// ToRawMessage normalizes a bus event into the single message shape the
// processing core operates on.
func (e *MessageEvent) ToRawMessage() *RawMessage {
	mt := MediaType(e.MediaType)
	switch mt {
	case MediaNone, MediaPhoto, MediaOther:
	default:
		mt = MediaNone
	}
	return &RawMessage{
		ChannelID:  e.ChannelID,
		MessageID:  e.MessageID,
		Text:       e.Text,
		Caption:    e.Caption,
		Sender:     e.Sender,
		MediaType:  mt,
		PostedAt:   time.Unix(e.PostedAt, 0),
		ReceivedAt: time.Now(),
	}
}
