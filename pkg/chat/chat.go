// Package chat validates and builds lobby and match chat messages.
package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
)

// MaxLength is the longest message accepted, counted in runes after trimming.
const MaxLength = 500

type Kind string

const (
	KindPlayer Kind = "player"
	KindSystem Kind = "system"
)

// Message is the payload of a chat-message event.
type Message struct {
	ID         string    `json:"id"`
	Type       Kind      `json:"type"`
	PlayerID   string    `json:"playerId,omitempty"`
	PlayerName string    `json:"playerName,omitempty"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate trims text and checks its length.
func Validate(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", eris.Wrap(errs.ErrValidationFailed, "message cannot be empty")
	}
	if utf8.RuneCountInString(trimmed) > MaxLength {
		return "", eris.Wrapf(errs.ErrValidationFailed, "message cannot exceed %d characters", MaxLength)
	}
	return trimmed, nil
}

// NewPlayerMessage validates text and attributes it to a player.
func NewPlayerMessage(playerID, playerName, text string, now time.Time) (Message, error) {
	trimmed, err := Validate(text)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:         uuid.NewString(),
		Type:       KindPlayer,
		PlayerID:   playerID,
		PlayerName: playerName,
		Message:    trimmed,
		Timestamp:  now,
	}, nil
}

// NewSystemMessage builds a server announcement.
func NewSystemMessage(text string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      KindSystem,
		Message:   text,
		Timestamp: now,
	}
}
