package ir

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusPayload() Object {
	return Object{
		"request_id": Int(1),
		"old_status": String("Pending"),
		"new_status": String("InProgress"),
	}
}

func TestEventKeyDeterminism(t *testing.T) {
	k1, err := EventKey("StatusChanged", 1700000000, statusPayload())
	require.NoError(t, err)
	k2, err := EventKey("StatusChanged", 1700000000, statusPayload())
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
	_, err = hex.DecodeString(k1)
	assert.NoError(t, err)
}

func TestEventKeyIgnoresFieldOrder(t *testing.T) {
	a := NewObject(O("request_id", Int(1)), O("old_status", String("Pending")), O("new_status", String("InProgress")))
	b := NewObject(O("new_status", String("InProgress")), O("request_id", Int(1)), O("old_status", String("Pending")))

	assert.Equal(t, MustEventKey("StatusChanged", 5, a), MustEventKey("StatusChanged", 5, b))
}

func TestEventKeyChangesWithInput(t *testing.T) {
	base := MustEventKey("StatusChanged", 5, statusPayload())

	other := statusPayload()
	other["new_status"] = String("Rejected")

	assert.NotEqual(t, base, MustEventKey("DescriptionUpdated", 5, statusPayload()), "type")
	assert.NotEqual(t, base, MustEventKey("StatusChanged", 6, statusPayload()), "timestamp")
	assert.NotEqual(t, base, MustEventKey("StatusChanged", 5, other), "payload")
}

func TestEventKeyRejectsInvalidPayload(t *testing.T) {
	_, err := EventKey("StatusChanged", 1, Object{"bad": nil})
	assert.Error(t, err)

	assert.Panics(t, func() {
		MustEventKey("StatusChanged", 1, Object{"bad": nil})
	})
}

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte(`{"id":1}`)
	assert.NotEqual(t, hashWithDomain(DomainEvent, data), hashWithDomain(DomainTrace, data))

	// "foo" + 0x00 + "bar" must differ from "foob" + 0x00 + "ar".
	assert.NotEqual(t, hashWithDomain("foo", []byte("bar")), hashWithDomain("foob", []byte("ar")))
}

func TestTraceHash(t *testing.T) {
	h1, err := TraceHash(map[string]any{"steps": []any{"a", "b"}})
	require.NoError(t, err)
	h2, err := TraceHash(map[string]any{"steps": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	_, err = TraceHash(map[string]any{"x": 1.5})
	assert.Error(t, err)
}
