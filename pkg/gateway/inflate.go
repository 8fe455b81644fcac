package gateway

import (
	"io"

	"github.com/klauspost/compress/flate"
)

// zstream decompresses the gateway's transport stream. The upstream
// compresses the whole session as one continuous zlib stream, so a fresh
// decompressor per frame would corrupt state: frames are fed into a pipe and
// a single flate reader drains it for the life of the connection.
type zstream struct {
	pr    *io.PipeReader
	pw    *io.PipeWriter
	first bool
}

func newZStream() *zstream {
	pr, pw := io.Pipe()
	return &zstream{pr: pr, pw: pw, first: true}
}

// Feed appends one binary frame. The 2-byte zlib header only exists at the
// very start of the session and must be stripped before the raw deflate data
// reaches the reader. Feed blocks until the consumer catches up, which is the
// backpressure keeping event processing strictly in arrival order.
func (z *zstream) Feed(frame []byte) error {
	if z.first {
		z.first = false
		if len(frame) >= 2 && frame[0] == 0x78 {
			frame = frame[2:]
		}
	}
	if len(frame) == 0 {
		return nil
	}
	_, err := z.pw.Write(frame)
	return err
}

// Reader returns the decompressed byte stream.
func (z *zstream) Reader() io.ReadCloser {
	return flate.NewReader(z.pr)
}

// CloseWithError tears the stream down; the pending or next read on the
// consumer side returns err.
func (z *zstream) CloseWithError(err error) {
	z.pw.CloseWithError(err)
}

// Close releases both pipe ends. Closing only the consumer side would leave
// a producer blocked in Feed's pipe write forever.
func (z *zstream) Close() {
	z.pw.CloseWithError(io.ErrClosedPipe)
	z.pr.CloseWithError(io.ErrClosedPipe)
}
