// Package wire connects engines across process boundaries: a Portal accepts
// envelopes from remote portals and injects them into a local engine, and
// dials remote portals to push envelopes out. Frames are varint
// length-prefixed JSON, so the two sides only need to agree on node names.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/raskyld/telaio"
)

// maxFrameSize bounds a single envelope so a misbehaving peer cannot make
// us allocate arbitrary memory.
const maxFrameSize = 1 << 24

// Envelope pairs a message with the node it is addressed to on the
// receiving graph.
type Envelope struct {
	Dest string          `json:"dest"`
	Msg  *telaio.Message `json:"msg"`
}

// Codec frames envelopes with a varint length prefix. It works on any
// stream pair; in practice the streams are QUIC.
type Codec struct{}

func (Codec) Encode(w io.Writer, env *Envelope) error {
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if len(buf) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(buf))
	}

	prefixed := protowire.AppendVarint(nil, uint64(len(buf)))
	prefixed = append(prefixed, buf...)
	_, err = w.Write(prefixed)
	return err
}

func (Codec) Decode(r io.Reader) (*Envelope, error) {
	prefix := make([]byte, 0, binary.MaxVarintLen64)
	var one [1]byte
	for len(prefix) < binary.MaxVarintLen64 {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return nil, err
		}
		prefix = append(prefix, one[0])
		if one[0] < 0x80 {
			break
		}
	}

	size, n := protowire.ConsumeVarint(prefix)
	if err := protowire.ParseError(n); err != nil {
		return nil, err
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, err
	}
	if env.Dest == "" || env.Msg == nil {
		return nil, ErrBadEnvelope
	}
	return &env, nil
}
