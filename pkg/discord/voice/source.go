// Package voice keeps the bot connected to voice channels and streams audio
// frames into them.
package voice

import (
	"context"
	"io"
	"time"
)

// FrameReader yields Opus frames. ReadFrame returns io.EOF when the stream
// is finished.
type FrameReader interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// OpusSource opens a new stream for one voice session. Decoding and
// transcoding are the source's concern; frames go to Discord unchanged.
type OpusSource interface {
	Open(ctx context.Context, guildID, channelID string) (FrameReader, error)
}

// silenceFrame is the Opus encoding of 20ms of silence.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// Silence is a source that sends a few silent frames per stream. It keeps a
// session present without playing anything.
type Silence struct {
	// Frames per stream; defaults to 5.
	Frames int
	// Pause between streams.
	Pause time.Duration
}

func (s Silence) Open(ctx context.Context, _, _ string) (FrameReader, error) {
	n := s.Frames
	if n <= 0 {
		n = 5
	}
	pause := s.Pause
	if pause <= 0 {
		pause = 30 * time.Second
	}
	return &silenceReader{ctx: ctx, left: n, pause: pause}, nil
}

type silenceReader struct {
	ctx   context.Context
	left  int
	pause time.Duration
}

func (r *silenceReader) ReadFrame() ([]byte, error) {
	if r.left > 0 {
		r.left--
		return silenceFrame, nil
	}
	t := time.NewTimer(r.pause)
	defer t.Stop()
	select {
	case <-t.C:
	case <-r.ctx.Done():
	}
	return nil, io.EOF
}

func (r *silenceReader) Close() error { return nil }
