package pilot

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Limits bounds how much memory the decoder will commit to a single message.
type Limits struct {
	MaxLineBytes   int
	MaxHeaderBytes int
	MaxBodyBytes   int64
}

// DefaultLimits returns the limits used when a Config leaves them unset.
func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes:   8 << 10,
		MaxHeaderBytes: 64 << 10,
		MaxBodyBytes:   10 << 20,
	}
}

// maxLeadingEmptyLines is how many bare CRLFs may precede a request line.
const maxLeadingEmptyLines = 4

type framing int

const (
	framingNone framing = iota
	framingLength
	framingChunked
	framingUntilClose
)

// DecodeRequest reads one request from r. The body is fully read and
// de-chunked before returning. A peer that closes cleanly before sending a
// byte yields io.EOF; every protocol violation is a *ParseError; stream
// failures are returned as they come from the reader.
func DecodeRequest(r *bufio.Reader, limits Limits) (*Request, error) {
	buf := NewBuf(r)

	line, err := readStartLine(buf, limits)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(string(line), " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, newParseError(ErrMalformedStartLine, "expected METHOD SP target SP version", nil)
	}
	method, err := ParseMethod(parts[0])
	if err != nil {
		return nil, err
	}
	version, err := ParseVersion(parts[2])
	if err != nil {
		return nil, err
	}
	req := &Request{
		Method:  method,
		Target:  parts[1],
		Version: version,
	}
	if err := req.parseTarget(); err != nil {
		return nil, err
	}

	if req.Headers, err = readHeaderFields(buf, limits); err != nil {
		return nil, err
	}
	if hosts := req.Headers.Values("Host"); len(hosts) > 1 || (len(hosts) == 0 && version == HTTP11) {
		return nil, newParseError(ErrInvalidHeader, "request needs exactly one Host header", nil)
	}

	mode, length, err := bodyFraming(req.Headers, true)
	if err != nil {
		return nil, err
	}
	req.Body, req.Trailers, err = readBody(buf, mode, length, limits)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeResponse reads one response to a request made with method. Interim
// 1xx responses other than 101 are skipped.
func DecodeResponse(r *bufio.Reader, method HttpMethod, limits Limits) (*Response, error) {
	buf := NewBuf(r)
	for {
		res, err := decodeResponseHead(buf, limits)
		if err != nil {
			return nil, err
		}
		if res.StatusCode >= 100 && res.StatusCode < 200 && res.StatusCode != StatusSwitchingProtocols {
			continue
		}
		if method == Head || res.StatusCode.bodyless() {
			return res, nil
		}
		mode, length, err := bodyFraming(res.Headers, false)
		if err != nil {
			return nil, err
		}
		res.Body, res.Trailers, err = readBody(buf, mode, length, limits)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
}

func decodeResponseHead(buf *HttpBuf, limits Limits) (*Response, error) {
	line, err := buf.ReadLine(limits.MaxLineBytes)
	if err != nil {
		return nil, startLineError(err)
	}
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) < 2 {
		return nil, newParseError(ErrMalformedStartLine, "expected version SP status SP reason", nil)
	}
	version, err := ParseVersion(parts[0])
	if err != nil {
		return nil, err
	}
	if len(parts[1]) != 3 {
		return nil, newParseError(ErrMalformedStartLine, "status code must be three digits", nil)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 {
		return nil, newParseError(ErrMalformedStartLine, "bad status code", err)
	}
	res := &Response{StatusCode: StatusCode(code), Version: version}
	if len(parts) == 3 {
		res.Reason = parts[2]
	}
	if res.Headers, err = readHeaderFields(buf, limits); err != nil {
		return nil, err
	}
	return res, nil
}

func readStartLine(buf *HttpBuf, limits Limits) ([]byte, error) {
	for skipped := 0; ; skipped++ {
		line, err := buf.ReadLine(limits.MaxLineBytes)
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, startLineError(err)
		}
		if len(line) > 0 {
			return line, nil
		}
		if skipped >= maxLeadingEmptyLines {
			return nil, newParseError(ErrMalformedStartLine, "too many empty lines", nil)
		}
	}
}

func startLineError(err error) error {
	switch {
	case errors.Is(err, errLineTooLong):
		return newParseError(ErrMalformedStartLine, "start line too long", nil)
	case errors.Is(err, errBareLF):
		return newParseError(ErrMalformedStartLine, "start line not CRLF terminated", nil)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return newParseError(ErrConnectionClosed, "", nil)
	}
	return err
}

// readHeaderFields reads header lines up to the blank line. The header block
// as a whole, CRLFs included, must fit in limits.MaxHeaderBytes.
func readHeaderFields(buf *HttpBuf, limits Limits) (Headers, error) {
	var headers Headers
	used := 0
	for {
		line, err := buf.ReadLine(max(limits.MaxHeaderBytes-used, 0))
		if err != nil {
			switch {
			case errors.Is(err, errLineTooLong):
				return nil, newParseError(ErrHeadersTooLarge, "", nil)
			case errors.Is(err, errBareLF):
				return nil, newParseError(ErrInvalidHeader, "header line not CRLF terminated", nil)
			}
			return nil, closedOr(err)
		}
		if len(line) == 0 {
			return headers, nil
		}
		used += len(line) + 2
		if used > limits.MaxHeaderBytes {
			return nil, newParseError(ErrHeadersTooLarge, "", nil)
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, newParseError(ErrInvalidHeader, "obsolete line folding", nil)
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return nil, newParseError(ErrInvalidHeader, "missing name or colon", nil)
		}
		name := string(line[:colon])
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, newParseError(ErrInvalidHeader, "bad field name "+strconv.Quote(name), nil)
		}
		value := strings.Trim(string(line[colon+1:]), " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, newParseError(ErrInvalidHeader, "bad value for "+name, nil)
		}
		headers = append(headers, Header{Name: name, Value: value})
	}
}

// bodyFraming decides how the body that follows the headers is delimited.
func bodyFraming(h Headers, request bool) (framing, int64, error) {
	te := h.Values("Transfer-Encoding")
	cl := h.Values("Content-Length")
	if len(te) > 0 && len(cl) > 0 {
		return framingNone, 0, newParseError(ErrConflictingFraming, "", nil)
	}
	if len(te) > 0 {
		if lastToken(te) == "chunked" {
			return framingChunked, 0, nil
		}
		if request {
			return framingNone, 0, newParseError(ErrUnsupportedTransferCoding, strings.Join(te, ", "), nil)
		}
		return framingUntilClose, 0, nil
	}
	if len(cl) > 0 {
		n, err := parseContentLength(cl)
		if err != nil {
			return framingNone, 0, err
		}
		return framingLength, n, nil
	}
	if request {
		return framingNone, 0, nil
	}
	return framingUntilClose, 0, nil
}

// parseContentLength accepts repeated or comma separated values only when
// they all agree.
func parseContentLength(values []string) (int64, error) {
	n := int64(-1)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" || len(part) > 18 {
				return 0, newParseError(ErrInvalidContentLength, strconv.Quote(v), nil)
			}
			for i := 0; i < len(part); i++ {
				if part[i] < '0' || part[i] > '9' {
					return 0, newParseError(ErrInvalidContentLength, strconv.Quote(v), nil)
				}
			}
			parsed, _ := strconv.ParseInt(part, 10, 64)
			if n >= 0 && parsed != n {
				return 0, newParseError(ErrInvalidContentLength, "conflicting values", nil)
			}
			n = parsed
		}
	}
	return n, nil
}

func readBody(buf *HttpBuf, mode framing, length int64, limits Limits) ([]byte, Headers, error) {
	switch mode {
	case framingChunked:
		return readChunked(buf, limits)
	case framingLength:
		if length > limits.MaxBodyBytes {
			return nil, nil, newParseError(ErrBodyTooLarge, "", nil)
		}
		if length == 0 {
			return []byte{}, nil, nil
		}
		body, err := buf.ReadExact(length)
		return body, nil, err
	case framingUntilClose:
		body, err := buf.ReadToEOF(limits.MaxBodyBytes)
		return body, nil, err
	default:
		return []byte{}, nil, nil
	}
}

// EncodeResponse writes res to w exactly as described by its headers. The
// codec never adds or rewrites framing headers; call PrepareFraming first
// for that.
func EncodeResponse(w io.Writer, res *Response) error {
	return encodeResponse(w, res, false)
}

func encodeResponse(w io.Writer, res *Response, omitBody bool) error {
	version := res.Version
	if version == (Version{}) {
		version = HTTP11
	}
	reason := res.Reason
	if reason == "" {
		reason = res.StatusCode.Reason()
	}
	start := version.String() + " " + strconv.Itoa(int(res.StatusCode)) + " " + reason
	msg := message{
		headers:    res.Headers,
		body:       res.Body,
		stream:     res.Stream,
		streamSize: res.StreamSize,
		trailers:   res.Trailers,
		omitBody:   omitBody || res.StatusCode.bodyless(),
	}
	return msg.write(w, start)
}

// EncodeRequest writes req to w. The request target is req.Target when set,
// otherwise it is rebuilt from RawPath (or Path) and QueryString.
func EncodeRequest(w io.Writer, req *Request) error {
	version := req.Version
	if version == (Version{}) {
		version = HTTP11
	}
	target := req.Target
	if target == "" {
		target = req.RequestURI()
	}
	msg := message{
		headers:    req.Headers,
		body:       req.Body,
		streamSize: -1,
		trailers:   req.Trailers,
		request:    true,
	}
	return msg.write(w, string(req.Method)+" "+target+" "+version.String())
}

type message struct {
	headers    Headers
	body       []byte
	stream     io.Reader
	streamSize int64
	trailers   Headers
	omitBody   bool
	request    bool
}

func (m *message) write(w io.Writer, start string) error {
	mode, length, err := m.check()
	if err != nil {
		return err
	}
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriterSize(w, BUFFER_SIZE)
	}
	bw.WriteString(start)
	bw.WriteString("\r\n")
	if err := writeHeaderFields(bw, m.headers); err != nil {
		return err
	}
	bw.WriteString("\r\n")
	if !m.omitBody {
		if err := m.writeBody(bw, mode, length); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// check validates framing before any byte is written so a rejected message
// never leaves a partial start line on the wire.
func (m *message) check() (framing, int64, error) {
	for _, h := range append(m.headers.Clone(), m.trailers...) {
		if !httpguts.ValidHeaderFieldName(h.Name) || !httpguts.ValidHeaderFieldValue(h.Value) {
			return framingNone, 0, newParseError(ErrInvalidHeader, "refusing to write "+strconv.Quote(h.Name), nil)
		}
	}
	mode, length, err := bodyFraming(m.headers, m.request)
	if err != nil {
		var perr *ParseError
		if m.request && errors.As(err, &perr) && perr.Kind == ErrUnsupportedTransferCoding {
			return framingNone, 0, newParseError(ErrBodyLengthMismatch, "request body needs Content-Length or chunked", nil)
		}
		return framingNone, 0, err
	}
	if m.omitBody {
		return mode, length, nil
	}
	switch mode {
	case framingLength:
		if m.stream != nil {
			if m.streamSize >= 0 && m.streamSize != length {
				return mode, length, newParseError(ErrBodyLengthMismatch, "", nil)
			}
		} else if int64(len(m.body)) != length {
			return mode, length, newParseError(ErrBodyLengthMismatch, "", nil)
		}
	case framingNone:
		if len(m.body) > 0 || m.stream != nil {
			return mode, length, newParseError(ErrBodyLengthMismatch, "request body needs Content-Length or chunked", nil)
		}
	}
	return mode, length, nil
}

func (m *message) writeBody(w *bufio.Writer, mode framing, length int64) error {
	src := m.stream
	if src == nil {
		src = bytes.NewReader(m.body)
	}
	var err error
	switch mode {
	case framingChunked:
		err = writeChunked(w, src, m.trailers)
	case framingLength:
		var n int64
		n, err = io.CopyN(w, src, length)
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("stream ended %d bytes early", length-n)
		}
	case framingUntilClose:
		_, err = io.Copy(w, src)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBodyTruncated, err)
	}
	return nil
}

func writeHeaderFields(w io.Writer, headers Headers) error {
	for _, h := range headers {
		if _, err := io.WriteString(w, h.Name+": "+h.Value+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

// parseTarget fills Path, RawPath and QueryString from Target.
func (req *Request) parseTarget() error {
	target := req.Target
	for i := 0; i < len(target); i++ {
		if target[i] <= ' ' || target[i] == 0x7f {
			return newParseError(ErrMalformedStartLine, "control character in target", nil)
		}
	}
	switch {
	case strings.HasPrefix(target, "/"):
		req.RawPath, req.QueryString, _ = strings.Cut(target, "?")
	case target == "*":
		if req.Method != Options {
			return newParseError(ErrMalformedStartLine, "asterisk target is only valid for OPTIONS", nil)
		}
		req.RawPath, req.Path = "*", "*"
		return nil
	case req.Method == Connect:
		req.RawPath, req.Path = target, target
		return nil
	default:
		u, err := url.ParseRequestURI(target)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return newParseError(ErrMalformedStartLine, "unsupported request target", err)
		}
		req.RawPath = u.EscapedPath()
		if req.RawPath == "" {
			req.RawPath = "/"
		}
		req.QueryString = u.RawQuery
	}
	path, err := url.PathUnescape(req.RawPath)
	if err != nil {
		return newParseError(ErrMalformedStartLine, "bad percent-encoding in path", err)
	}
	req.Path = path
	return nil
}
