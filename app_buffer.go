package pilot

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
)

// BUFFER_SIZE is the size of the per-connection read buffer. Lines longer
// than this are still accepted up to Limits.MaxLineBytes, they just take more
// than one fill.
const BUFFER_SIZE = 4096

var (
	errLineTooLong = errors.New("line exceeds limit")
	errBareLF      = errors.New("line terminated by bare LF")
)

// HttpBuf reads protocol elements off a buffered stream with explicit bounds.
// It owns no memory of its own beyond the bufio.Reader it wraps, which is
// reused across every request on the connection.
type HttpBuf struct {
	r *bufio.Reader
}

func NewBuf(r *bufio.Reader) *HttpBuf {
	return &HttpBuf{r: r}
}

// ReadLine returns the next CRLF terminated line without its terminator.
// A clean end of stream before any byte yields io.EOF, a partial line yields
// io.ErrUnexpectedEOF.
func (buf *HttpBuf) ReadLine(max int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := buf.r.ReadSlice('\n')
		if len(line)+len(chunk) > max+2 {
			return nil, errLineTooLong
		}
		line = append(line, chunk...)
		switch {
		case err == nil:
			if len(line) < 2 || line[len(line)-2] != '\r' {
				return nil, errBareLF
			}
			line = line[:len(line)-2]
			if len(line) > max {
				return nil, errLineTooLong
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

// Peek blocks until at least one byte is buffered.
func (buf *HttpBuf) Peek() (byte, error) {
	b, err := buf.r.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadExact reads exactly n bytes. A short stream is ErrConnectionClosed.
func (buf *HttpBuf) ReadExact(n int64) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(buf.r, out); err != nil {
		return nil, closedOr(err)
	}
	return out, nil
}

// ReadToEOF reads until the peer closes, failing once more than max bytes arrive.
func (buf *HttpBuf) ReadToEOF(max int64) ([]byte, error) {
	var out bytes.Buffer
	limit := max
	if limit < math.MaxInt64 {
		limit++
	}
	n, err := out.ReadFrom(io.LimitReader(buf.r, limit))
	if err != nil {
		return nil, err
	}
	if n > max {
		return nil, newParseError(ErrBodyTooLarge, "", nil)
	}
	return out.Bytes(), nil
}

// expectCRLF consumes a bare CRLF, as found after chunk data.
func (buf *HttpBuf) expectCRLF() error {
	var crlf [2]byte
	if _, err := io.ReadFull(buf.r, crlf[:]); err != nil {
		return closedOr(err)
	}
	if crlf[0] != '\r' || crlf[1] != '\n' {
		return newParseError(ErrMalformedChunk, "missing CRLF after chunk data", nil)
	}
	return nil
}

// closedOr maps a short read onto ErrConnectionClosed and passes transport
// failures through.
func closedOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return newParseError(ErrConnectionClosed, "", nil)
	}
	return err
}
