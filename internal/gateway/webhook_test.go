package gateway

import (
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignature(t *testing.T) {
	c := New(Config{SecretKey: testSecret}, slogt.New(t))
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)

	sig := c.Sign(body)
	assert.Len(t, sig, 128)
	assert.True(t, c.VerifySignature(body, sig))

	assert.False(t, c.VerifySignature(body, ""))
	assert.False(t, c.VerifySignature(body, "not-hex"))
	assert.False(t, c.VerifySignature([]byte(`{"event":"charge.success","data":{"reference":"ref-2"}}`), sig))

	other := New(Config{SecretKey: "another"}, slogt.New(t))
	assert.False(t, other.VerifySignature(body, sig))

	unkeyed := New(Config{}, slogt.New(t))
	assert.False(t, unkeyed.VerifySignature(body, unkeyed.Sign(body)))
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"transfer.failed","data":{"reference":"wd-1","status":"failed"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventTransferFailed, ev.Event)
	assert.Equal(t, "wd-1", ev.Reference)

	ev, err = ParseEvent([]byte(`{"event":"subscription.create"}`))
	require.NoError(t, err)
	assert.Empty(t, ev.Reference)

	_, err = ParseEvent([]byte(`not json`))
	require.Error(t, err)
}
