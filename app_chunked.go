package pilot

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

// ChunkSize is the payload size used when encoding a chunked body.
const ChunkSize = 1024

const maxChunkSizeDigits = 16

// readChunked de-chunks a body: size lines in hex with optional extensions,
// data followed by CRLF, a zero chunk, then an optional trailer block.
func readChunked(buf *HttpBuf, limits Limits) ([]byte, Headers, error) {
	var body bytes.Buffer
	for {
		line, err := buf.ReadLine(limits.MaxLineBytes)
		if err != nil {
			return nil, nil, chunkLineError(err)
		}
		size, err := parseChunkSize(line)
		if err != nil {
			return nil, nil, err
		}
		if size == 0 {
			break
		}
		if int64(body.Len())+size > limits.MaxBodyBytes {
			return nil, nil, newParseError(ErrBodyTooLarge, "", nil)
		}
		data, err := buf.ReadExact(size)
		if err != nil {
			return nil, nil, err
		}
		body.Write(data)
		if err := buf.expectCRLF(); err != nil {
			return nil, nil, err
		}
	}
	trailers, err := readHeaderFields(buf, limits)
	if err != nil {
		return nil, nil, err
	}
	return body.Bytes(), trailers, nil
}

func parseChunkSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimRight(line, " \t")
	if len(line) == 0 || len(line) > maxChunkSizeDigits {
		return 0, newParseError(ErrMalformedChunk, "bad chunk size line", nil)
	}
	for _, c := range line {
		if !isHexDigit(c) {
			return 0, newParseError(ErrMalformedChunk, "bad chunk size line", nil)
		}
	}
	size, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil {
		return 0, newParseError(ErrMalformedChunk, "chunk size out of range", err)
	}
	return size, nil
}

func chunkLineError(err error) error {
	switch {
	case errors.Is(err, errLineTooLong), errors.Is(err, errBareLF):
		return newParseError(ErrMalformedChunk, err.Error(), nil)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return newParseError(ErrConnectionClosed, "", nil)
	}
	return err
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// writeChunked copies src to w as a chunked body of at most ChunkSize bytes
// per chunk, then writes the zero chunk, trailers and the final CRLF.
func writeChunked(w io.Writer, src io.Reader, trailers Headers) error {
	payload := make([]byte, ChunkSize)
	sizeLine := make([]byte, 0, maxChunkSizeDigits+2)
	for {
		n, rerr := src.Read(payload)
		if n > 0 {
			sizeLine = strconv.AppendInt(sizeLine[:0], int64(n), 16)
			sizeLine = append(sizeLine, '\r', '\n')
			if _, err := w.Write(sizeLine); err != nil {
				return err
			}
			if _, err := w.Write(payload[:n]); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	if _, err := io.WriteString(w, "0\r\n"); err != nil {
		return err
	}
	if err := writeHeaderFields(w, trailers); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
