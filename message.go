package telaio

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MsgKind tags the five message shapes extensions exchange, plus the
// graph-control commands the engine itself consumes.
type MsgKind uint8

const (
	KindInvalid MsgKind = iota
	KindCmd
	KindCmdResult
	KindData
	KindAudioFrame
	KindVideoFrame
)

func (k MsgKind) String() string {
	switch k {
	case KindCmd:
		return "cmd"
	case KindCmdResult:
		return "cmd_result"
	case KindData:
		return "data"
	case KindAudioFrame:
		return "audio_frame"
	case KindVideoFrame:
		return "video_frame"
	default:
		return "invalid"
	}
}

// Graph-control command names. They address the engine, not an extension:
// a CmdStopGraph arriving at the engine triggers a graceful close.
const (
	CmdStartGraph = "start_graph"
	CmdStopGraph  = "stop_graph"
)

// Loc names a message endpoint inside a graph instance.
type Loc struct {
	Graph     string `json:"graph,omitempty" yaml:"graph,omitempty"`
	Group     string `json:"group,omitempty" yaml:"group,omitempty"`
	Extension string `json:"extension,omitempty" yaml:"extension,omitempty"`
}

// AudioSpec carries per-frame audio metadata.
type AudioSpec struct {
	SampleRate     int `json:"sample_rate"`
	Channels       int `json:"channels"`
	BytesPerSample int `json:"bytes_per_sample"`
}

// VideoSpec carries per-frame video metadata.
type VideoSpec struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	PixelFmt string `json:"pixel_fmt"`
}

// Message is the envelope routed along graph connections. It is created by
// one sender, then shared across every goroutine it is routed through, so it
// must not be mutated after send: the router hands each destination its own
// clone and the sender must treat the original as gone.
type Message struct {
	kind MsgKind
	name string
	id   string
	ts   time.Time

	src   Loc
	dests []Loc

	payload []byte
	audio   *AudioSpec
	video   *VideoSpec
}

func newMessage(kind MsgKind, name string, payload []byte) *Message {
	return &Message{
		kind:    kind,
		name:    name,
		id:      uuid.NewString(),
		ts:      time.Now(),
		payload: payload,
	}
}

// NewCmd creates a command message. Commands expect a CmdResult correlated
// by the command's ID.
func NewCmd(name string, payload []byte) *Message {
	return newMessage(KindCmd, name, payload)
}

// NewData creates a one-way data message.
func NewData(name string, payload []byte) *Message {
	return newMessage(KindData, name, payload)
}

// NewAudioFrame creates an audio frame message.
func NewAudioFrame(name string, payload []byte, spec AudioSpec) *Message {
	msg := newMessage(KindAudioFrame, name, payload)
	msg.audio = &spec
	return msg
}

// NewVideoFrame creates a video frame message.
func NewVideoFrame(name string, payload []byte, spec VideoSpec) *Message {
	msg := newMessage(KindVideoFrame, name, payload)
	msg.video = &spec
	return msg
}

// newResultFor creates the CmdResult answering cmd: same name and ID, routed
// back to the command's source.
func newResultFor(cmd *Message, payload []byte) *Message {
	res := newMessage(KindCmdResult, cmd.name, payload)
	res.id = cmd.id
	res.dests = []Loc{cmd.src}
	return res
}

func (m *Message) Kind() MsgKind        { return m.kind }
func (m *Message) Name() string         { return m.name }
func (m *Message) ID() string           { return m.id }
func (m *Message) Timestamp() time.Time { return m.ts }
func (m *Message) Source() Loc          { return m.src }
func (m *Message) Payload() []byte      { return m.payload }
func (m *Message) Audio() *AudioSpec    { return m.audio }
func (m *Message) Video() *VideoSpec    { return m.video }

// Destinations returns a copy of the destination list.
func (m *Message) Destinations() []Loc {
	out := make([]Loc, len(m.dests))
	copy(out, m.dests)
	return out
}

// clone produces the per-destination copy the router hands over. The payload
// backing array is shared; it is immutable by contract once sent.
func (m *Message) clone() *Message {
	cp := *m
	cp.dests = m.Destinations()
	return &cp
}

// wireMessage is the JSON shape of a Message crossing a process boundary.
type wireMessage struct {
	Kind    string     `json:"kind"`
	Name    string     `json:"name"`
	ID      string     `json:"id"`
	TS      time.Time  `json:"ts"`
	Src     Loc        `json:"src,omitempty"`
	Dests   []Loc      `json:"dests,omitempty"`
	Payload []byte     `json:"payload,omitempty"`
	Audio   *AudioSpec `json:"audio,omitempty"`
	Video   *VideoSpec `json:"video,omitempty"`
}

func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		Kind:    m.kind.String(),
		Name:    m.name,
		ID:      m.id,
		TS:      m.ts,
		Src:     m.src,
		Dests:   m.dests,
		Payload: m.payload,
		Audio:   m.audio,
		Video:   m.video,
	})
}

// UnmarshalJSON rehydrates a message that crossed a process boundary,
// preserving its identity and timestamp so command correlation still works.
func (m *Message) UnmarshalJSON(buf []byte) error {
	var w wireMessage
	if err := json.Unmarshal(buf, &w); err != nil {
		return err
	}
	kind, ok := kindFromSpec(w.Kind)
	if !ok && w.Kind != "cmd_result" {
		return fmt.Errorf("%w: %q", ErrBadMessageKind, w.Kind)
	}
	if w.Kind == "cmd_result" {
		kind = KindCmdResult
	}
	if w.ID == "" || w.Name == "" {
		return fmt.Errorf("%w: message without id or name", ErrBadMessageKind)
	}
	m.kind = kind
	m.name = w.Name
	m.id = w.ID
	m.ts = w.TS
	m.src = w.Src
	m.dests = w.Dests
	m.payload = w.Payload
	m.audio = w.Audio
	m.video = w.Video
	return nil
}
