package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/queue"
)

const snapshotEnvelope = `{"kind":"snapshot","payload":{
	"timestamp": 1700000000,
	"clusters": [{"members": ["Diamond", "Kaiden"], "npcs": 1, "players": 1}],
	"humanContext": {
		"Diamond": {
			"health": {"current": 80, "max": 100, "state": "Walking", "isMoving": true},
			"position": {"x": 8.12345, "y": 3, "z": -12},
			"currentGroups": {"members": ["Kaiden"], "npcs": 0, "players": 1}
		}
	}
}}`

const chatEnvelope = `{"kind":"chat","payload":{
	"npc_id": "Diamond",
	"message": "Hello there",
	"timestamp": 1700000000,
	"context": {"participant_id": "Kaiden", "participant_type": "player", "extra": {"quest": "ring"}}
}}`

func TestValidator_Decode(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	item, err := v.Decode([]byte(snapshotEnvelope))
	require.NoError(t, err)
	snap, ok := item.(queue.SnapshotItem)
	require.True(t, ok)
	require.Contains(t, snap.Batch.Entities, "Diamond")
	assert.Equal(t, 8.123, snap.Batch.Entities["Diamond"].Position.X)

	item, err = v.Decode([]byte(chatEnvelope))
	require.NoError(t, err)
	chat, ok := item.(queue.ChatItem)
	require.True(t, ok)
	assert.Equal(t, "Kaiden", chat.Context.ParticipantID)
	assert.Equal(t, "ring", chat.Context.Extra["quest"])
}

func TestValidator_Rejects(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		msg  string
	}{
		{"not json", `{"kind":`},
		{"unknown kind", `{"kind":"telemetry","payload":{}}`},
		{"missing payload", `{"kind":"chat"}`},
		{"extra envelope field", `{"kind":"chat","payload":{"npc_id":"a","message":"b"},"x":1}`},
		{"chat without message", `{"kind":"chat","payload":{"npc_id":"a"}}`},
		{"chat with numeric extra", `{"kind":"chat","payload":{"npc_id":"a","message":"b","context":{"extra":{"k":1}}}}`},
		{"snapshot without entities", `{"kind":"snapshot","payload":{"timestamp":1}}`},
		{"unknown activity", `{"kind":"snapshot","payload":{"humanContext":{"a":{"health":{"current":1,"max":1,"state":"Flying"}}}}}`},
		{"partial position", `{"kind":"snapshot","payload":{"humanContext":{"a":{"position":{"x":1}}}}}`},
		{"negative max health", `{"kind":"snapshot","payload":{"humanContext":{"a":{"health":{"current":1,"max":-1}}}}}`},
		{"fractional timestamp", `{"kind":"snapshot","payload":{"timestamp":1.5,"humanContext":{}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decode([]byte(tt.msg))
			require.Error(t, err)
			assert.Equal(t, worldsync.KindValidation, worldsync.KindOf(err))
		})
	}
}
