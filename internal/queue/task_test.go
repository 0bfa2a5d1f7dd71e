package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: wire form round-trips
func TestParseTask_RoundTrip(t *testing.T) {
	for _, task := range []Task{FlushTask(), IndexTask("9f1c-aa", 1700000000123)} {
		got, err := ParseTask(task.String())
		require.NoError(t, err)
		assert.Equal(t, task, got)
		assert.Equal(t, task.String(), got.String())
	}
}

func TestTask_String(t *testing.T) {
	assert.Equal(t, "op:FLUSH", FlushTask().String())
	assert.Equal(t, "op:INDEX_EVENT,uuid:u1,lastSeen:42", IndexTask("u1", 42).String())
}

// TS02: garbage is rejected
func TestParseTask_Invalid(t *testing.T) {
	for _, s := range []string{
		"",
		"garbage",
		"uuid:u1,lastSeen:1",
		"op:",
		"op:INDEX_EVENT,lastSeen:1",
		"op:INDEX_EVENT,uuid:u1",
		"op:INDEX_EVENT,uuid:u1,lastSeen:soon",
	} {
		_, err := ParseTask(s)
		require.Error(t, err, s)
		assert.True(t, errors.Is(err, ErrInvalidTask), s)
	}
}

func TestParseTask_UnknownOpKeepsWireForm(t *testing.T) {
	got, err := ParseTask("op:REINDEX_ALL,scope:x")
	require.NoError(t, err)
	assert.Equal(t, OpUnknown, got.Op)
	assert.Equal(t, "op:REINDEX_ALL,scope:x", got.String())
}
