package telaio

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessage_Constructors(t *testing.T) {
	cmd := NewCmd("do_thing", []byte("args"))
	require.Equal(t, KindCmd, cmd.Kind())
	require.Equal(t, "do_thing", cmd.Name())
	require.NotEmpty(t, cmd.ID())
	require.WithinDuration(t, time.Now(), cmd.Timestamp(), time.Second)

	frame := NewAudioFrame("pcm", []byte{0, 1, 2}, AudioSpec{SampleRate: 16000, Channels: 1, BytesPerSample: 2})
	require.Equal(t, KindAudioFrame, frame.Kind())
	require.Equal(t, 16000, frame.Audio().SampleRate)
	require.Nil(t, frame.Video())
}

func TestMessage_ResultCorrelation(t *testing.T) {
	cmd := NewCmd("do_thing", nil)
	cmd.src = Loc{Graph: "g", Group: "grp", Extension: "caller"}

	res := newResultFor(cmd, []byte("ok"))
	require.Equal(t, KindCmdResult, res.Kind())
	require.Equal(t, cmd.ID(), res.ID(), "result must carry the command's ID")
	require.Equal(t, cmd.Name(), res.Name())
	require.Equal(t, []Loc{cmd.src}, res.dests, "result must route back to the command's source")
}

func TestMessage_CloneIsolatesDestinations(t *testing.T) {
	msg := NewData("sample", []byte("payload"))
	msg.dests = []Loc{{Extension: "x"}}

	cp := msg.clone()
	cp.dests[0].Extension = "y"

	require.Equal(t, "x", msg.dests[0].Extension)
	require.Equal(t, msg.ID(), cp.ID())
	require.Equal(t, msg.Payload(), cp.Payload())
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	msg := NewVideoFrame("frame", []byte{0xDE, 0xAD}, VideoSpec{Width: 640, Height: 480, PixelFmt: "i420"})
	msg.src = Loc{Graph: "g", Group: "grp", Extension: "cam"}

	buf, err := json.Marshal(msg)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(buf, &back))
	require.Equal(t, msg.Kind(), back.Kind())
	require.Equal(t, msg.Name(), back.Name())
	require.Equal(t, msg.ID(), back.ID(), "identity must survive the wire")
	require.True(t, msg.Timestamp().Equal(back.Timestamp()))
	require.Equal(t, msg.Source(), back.Source())
	require.Equal(t, msg.Payload(), back.Payload())
	require.Equal(t, msg.Video(), back.Video())
}

func TestMessage_JSONRejectsGarbage(t *testing.T) {
	var m Message
	require.Error(t, json.Unmarshal([]byte(`{"kind":"telepathy","name":"x","id":"y"}`), &m))
	require.Error(t, json.Unmarshal([]byte(`{"kind":"data","name":"x"}`), &m), "missing id")
}
