package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantNonce string
		wantData  string
	}{
		{"full", `{"nonce":"abc","data":{"x":1}}`, "abc", `{"x":1}`},
		{"no nonce", `{"data":[1,2]}`, "", `[1,2]`},
		{"null nonce", `{"nonce":null,"data":"s"}`, "", `"s"`},
		{"no data", `{"nonce":"n"}`, "n", `{}`},
		{"null data", `{"nonce":"n","data":null}`, "n", `{}`},
		{"extra fields", `  {"nonce":"n","data":1,"cluster_id":4}`, "n", `1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope("ECHO", []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantNonce, env.Nonce)
			assert.JSONEq(t, tt.wantData, string(env.Data))
		})
	}
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	for _, body := range []string{"", "not json", "[1]", `"str"`, `{"nonce":5}`, `{"nonce":"a"`} {
		_, err := DecodeEnvelope("ECHO", []byte(body))
		var malformed *errspkg.MalformedMessageError
		require.ErrorAs(t, err, &malformed, body)
		assert.Equal(t, "ECHO", malformed.Channel)
	}
}

func TestResolvePayload_Raw(t *testing.T) {
	p, err := ResolvePayload(echoEndpoint("echo"), "ECHO", []byte(`{"x":1}`))
	require.NoError(t, err)

	assert.Equal(t, RawPayload, p.Kind)
	m, ok := p.Map()
	require.True(t, ok)
	assert.Equal(t, float64(1), m["x"])
}

func TestResolvePayload_Typed(t *testing.T) {
	p, err := ResolvePayload(typedEndpoint{}, "TYPED", []byte(`{"count":3}`))
	require.NoError(t, err)

	assert.Equal(t, TypedPayload, p.Kind)
	assert.Equal(t, "typed", p.Kind.String())
	assert.Equal(t, &typedPayload{Count: 3}, p.Value)

	var again typedPayload
	require.NoError(t, p.Decode(&again))
	assert.Equal(t, 3, again.Count)
}

func TestResolvePayload_CoercionFailure(t *testing.T) {
	_, err := ResolvePayload(typedEndpoint{}, "TYPED", []byte(`{"count":"x"}`))

	var malformed *errspkg.MalformedMessageError
	assert.ErrorAs(t, err, &malformed)
}

func TestEncodeReply(t *testing.T) {
	body, err := EncodeReply("abc", map[string]int{"x": 1}, "7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"nonce":"abc","data":{"x":1},"cluster_id":"7"}`, string(body))
}

func TestEncodeReply_Unencodable(t *testing.T) {
	bad := map[string]any{"c": make(chan int)}
	_, err := EncodeReply("abc", bad, "1")

	var encErr *errspkg.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, bad, encErr.Value)

	_, err = EncodeReply("abc", func() {}, "1")
	assert.True(t, errors.As(err, &encErr))
}

func TestEncodeRequestDefaultsData(t *testing.T) {
	body, err := EncodeRequest("n", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nonce":"n","data":{}}`, string(body))
}

func TestDecodeReply(t *testing.T) {
	reply, err := DecodeReply("REPLY:n", []byte(`{"nonce":"n","data":{"ok":true},"cluster_id":3}`))
	require.NoError(t, err)

	assert.Equal(t, "3", reply.ClusterID)
	var out struct{ OK bool }
	require.NoError(t, reply.Decode(&out))
	assert.True(t, out.OK)

	reply, err = DecodeReply("REPLY:n", []byte(`{"nonce":"n"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(reply.Data))
	assert.Empty(t, reply.ClusterID)

	_, err = DecodeReply("REPLY:n", []byte(`nope`))
	var malformed *errspkg.MalformedMessageError
	assert.ErrorAs(t, err, &malformed)
}

func TestReplyChannel(t *testing.T) {
	assert.Equal(t, "REPLY:abc", ReplyChannel("abc"))
}
