package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type msg struct {
		Collection string `json:"collection"`
	}
	m, err := DecodeJSON[msg]([]byte(`{"collection":"Question"}`))
	require.NoError(t, err)
	assert.Equal(t, "Question", m.Collection)

	_, err = DecodeJSON[msg]([]byte(`{`))
	assert.ErrorIs(t, err, ErrPoison)
}

func TestEncode(t *testing.T) {
	msgs, err := encode([]Event{{Key: "Question", Value: map[string]int{"generation": 3}}})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Question", string(msgs[0].Key))
	assert.JSONEq(t, `{"generation":3}`, string(msgs[0].Value))

	_, err = encode([]Event{{Key: "bad", Value: make(chan int)}})
	assert.Error(t, err)
}
