package domain

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateNickname(t *testing.T) {
	assert.Equal(t, "anon", TruncateNickname(""))
	assert.Equal(t, "alice", TruncateNickname("alice"))
	assert.Equal(t, strings.Repeat("x", MaxNickname), TruncateNickname(strings.Repeat("x", MaxNickname+5)))
}

func TestTruncateNickname_KeepsUTF8Valid(t *testing.T) {
	// 20 runes of é is 40 bytes; a byte-index cut at 20 would land mid-rune.
	nick := TruncateNickname(strings.Repeat("é", MaxNickname+5))
	assert.True(t, utf8.ValidString(nick))
	assert.Equal(t, MaxNickname, utf8.RuneCountInString(nick))
}

func TestTruncateDescription_KeepsUTF8Valid(t *testing.T) {
	desc := TruncateDescription(strings.Repeat("日", MaxDescription+1))
	assert.True(t, utf8.ValidString(desc))
	assert.Equal(t, MaxDescription, utf8.RuneCountInString(desc))
}

func TestRoomClone_Independent(t *testing.T) {
	room := &Room{
		RoomHash: "aaaaaaaaaaaaaaaa",
		Members:  map[string]string{"id-1": "alice"},
		Messages: []Message{{ID: "m1", Sender: "alice", Content: "hi", Timestamp: 1}},
		Emojis:   []string{"🔥"},
	}

	cp := room.Clone()
	room.Members["id-2"] = "bob"
	room.Messages[0].Content = "edited"
	room.Emojis[0] = "💧"

	assert.Equal(t, map[string]string{"id-1": "alice"}, cp.Members)
	assert.Equal(t, "hi", cp.Messages[0].Content)
	assert.Equal(t, []string{"🔥"}, cp.Emojis)
}
