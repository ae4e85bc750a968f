// Package domain defines the persistence model for conversation transcripts.
// The type here is mapped with GORM and forms the data layer shared by the
// repository and service packages.
package domain

import "time"

// Sender values for ChatTurn. The wire-level history sent to the inference
// service uses "assistant" for bot turns; the stored value stays "bot".
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// ChatTurn is one message of a conversation, written once and never mutated.
// Every submitted prompt produces exactly two turns: the user turn and either
// the bot reply or a cancellation marker in its place.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), assigned on append.
//   - UserID: owner of the turn; all queries are scoped per user and indexed.
//   - Sender: "user" or "bot" (enforced by DB constraint).
//   - Text: message body; may be empty when an image is attached.
//   - ImageBase64: optional base64-encoded image payload; empty for most turns.
//   - CreatedAt: creation time, the ordering key within a user partition.
type ChatTurn struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;index:idx_user_turns,priority:1"`
	Sender      string    `json:"sender"       gorm:"type:varchar(16);not null;check:sender IN ('user','bot')"`
	Text        string    `json:"text"         gorm:"type:text;not null"`
	ImageBase64 string    `json:"image_base64,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index:idx_user_turns,priority:2"`
}

// TableName returns the database table name for ChatTurn.
func (ChatTurn) TableName() string { return "chat_turns" }
