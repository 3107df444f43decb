package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/errs"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "trimmed", input: "  gg  ", want: "gg"},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: " \t\n", wantErr: true},
		{name: "at limit", input: strings.Repeat("a", MaxLength), want: strings.Repeat("a", MaxLength)},
		{name: "over limit", input: strings.Repeat("a", MaxLength+1), wantErr: true},
		{name: "multibyte at limit", input: strings.Repeat("é", MaxLength), want: strings.Repeat("é", MaxLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Validate(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, errs.ErrValidationFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewPlayerMessage(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := NewPlayerMessage("p1", "Ash", " hello ", now)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, KindPlayer, msg.Type)
	assert.Equal(t, "hello", msg.Message)
	assert.Equal(t, "Ash", msg.PlayerName)
	assert.Equal(t, now, msg.Timestamp)

	_, err = NewPlayerMessage("p1", "Ash", "   ", now)
	require.ErrorIs(t, err, errs.ErrValidationFailed)

	sys := NewSystemMessage("Ash joined the lobby", now)
	assert.Equal(t, KindSystem, sys.Type)
	assert.Empty(t, sys.PlayerID)
}
