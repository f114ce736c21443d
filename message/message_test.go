package message

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-bridge/codec"
)

func TestRequestRoundTrip(t *testing.T) {
	req := &Request{
		IsStatic:   true,
		ThreadID:   1,
		ClassName:  "X",
		MethodName: "connectCallback",
		Args:       []any{"127.0.0.1", int32(0)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(codec.NewEncoder(&buf, nil), req))

	got, err := ReadRequest(codec.NewDecoder(&buf, nil))
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestRequestWireLayout(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{IsStatic: false, ThreadID: 2, ClassName: "A", MethodName: "b"}
	require.NoError(t, WriteRequest(codec.NewEncoder(&buf, nil), req))

	want := []byte{
		0,          // isStatic
		0, 0, 0, 2, // threadId
		0, 0, 0, 1, 'A',
		0, 0, 0, 1, 'b',
		0, 0, 0, 0, // argCount
	}
	assert.Equal(t, want, buf.Bytes())
}

func TestReadRequestKeepsHeaderOnArgumentError(t *testing.T) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, nil)
	require.NoError(t, enc.WriteBool(true))
	require.NoError(t, enc.WriteInt32(9))
	require.NoError(t, enc.WriteString("Math"))
	require.NoError(t, enc.WriteString("abs"))
	require.NoError(t, enc.WriteInt32(1))
	buf.WriteByte('?')

	req, err := ReadRequest(codec.NewDecoder(&buf, nil))
	require.ErrorIs(t, err, codec.ErrUnsupportedType)
	assert.Equal(t, "Math", req.ClassName)
	assert.Equal(t, "abs", req.MethodName)
	assert.Equal(t, int32(9), req.ThreadID)
}

func TestSuccessReplyWithNull(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReply(codec.NewEncoder(&buf, nil), OK(nil)))
	assert.Equal(t, []byte{0, 0, 0, 0, 'n'}, buf.Bytes())

	reply, err := ReadReply(codec.NewDecoder(&buf, nil))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, reply.Status)
	assert.Nil(t, reply.Value)
	assert.NoError(t, reply.Err())
}

func TestFailureReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Failure(StatusNoSuchMethod, "no method Foo.bar", "trace")
	require.NoError(t, WriteReply(codec.NewEncoder(&buf, nil), in))

	got, err := ReadReply(codec.NewDecoder(&buf, nil))
	require.NoError(t, err)
	assert.Equal(t, in, got)

	var remote *RemoteError
	require.True(t, errors.As(got.Err(), &remote))
	assert.Equal(t, StatusNoSuchMethod, remote.Status)
	assert.Contains(t, remote.Error(), "no such method")
}

func TestFailureReplyWithoutTrace(t *testing.T) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, nil)
	require.NoError(t, enc.WriteInt32(int32(StatusInvocationFailed)))
	require.NoError(t, enc.WriteValue("boom"))

	got, err := ReadReply(codec.NewDecoder(&buf, nil))
	require.NoError(t, err)
	assert.Equal(t, "boom", got.Message)
	assert.Empty(t, got.Trace)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "rate limited", StatusRateLimited.String())
	assert.Equal(t, "status(42)", Status(42).String())
}
