package wire

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/raskyld/telaio"
)

func TestCodec_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	codec := Codec{}

	msg := telaio.NewData("sample", []byte("payload"))
	require.NoError(t, codec.Encode(&buf, &Envelope{Dest: "console", Msg: msg}))

	// A second frame on the same stream.
	cmd := telaio.NewCmd("ping", []byte("x"))
	require.NoError(t, codec.Encode(&buf, &Envelope{Dest: "echo", Msg: cmd}))

	env, err := codec.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, "console", env.Dest)
	require.Equal(t, msg.ID(), env.Msg.ID())
	require.Equal(t, telaio.KindData, env.Msg.Kind())
	require.Equal(t, []byte("payload"), env.Msg.Payload())
	require.True(t, msg.Timestamp().Equal(env.Msg.Timestamp()))

	env, err = codec.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, "echo", env.Dest)
	require.Equal(t, cmd.ID(), env.Msg.ID())
}

func TestCodec_RejectsBadFrames(t *testing.T) {
	codec := Codec{}

	t.Run("truncated stream", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, codec.Encode(&buf, &Envelope{
			Dest: "console",
			Msg:  telaio.NewData("sample", []byte("payload")),
		}))
		truncated := bytes.NewBuffer(buf.Bytes()[:buf.Len()-3])
		_, err := codec.Decode(truncated)
		require.Error(t, err)
	})

	t.Run("oversized prefix", func(t *testing.T) {
		huge := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F}
		_, err := codec.Decode(bytes.NewBuffer(huge))
		require.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("envelope without destination", func(t *testing.T) {
		// Encode happily emits an empty destination; rejecting it is the
		// decoder's job.
		body, err := json.Marshal(&Envelope{
			Dest: "",
			Msg:  telaio.NewData("sample", nil),
		})
		require.NoError(t, err)
		frame := protowire.AppendVarint(nil, uint64(len(body)))
		frame = append(frame, body...)

		_, err = codec.Decode(bytes.NewBuffer(frame))
		require.ErrorIs(t, err, ErrBadEnvelope)
	})

	t.Run("envelope without message", func(t *testing.T) {
		body := []byte(`{"dest":"console"}`)
		frame := protowire.AppendVarint(nil, uint64(len(body)))
		frame = append(frame, body...)

		_, err := codec.Decode(bytes.NewBuffer(frame))
		require.ErrorIs(t, err, ErrBadEnvelope)
	})
}
