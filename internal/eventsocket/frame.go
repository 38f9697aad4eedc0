package eventsocket

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxBuffer is the most unparsed input a connection may hold.
const MaxBuffer = 1 << 20

// Content types the client cares about.
const (
	ContentTypeAuthRequest      = "auth/request"
	ContentTypeCommandReply     = "command/reply"
	ContentTypeAPIResponse      = "api/response"
	ContentTypeEventJSON        = "text/event-json"
	ContentTypeDisconnectNotice = "text/disconnect-notice"
)

var (
	// ErrIncomplete means the buffer does not hold a whole frame yet.
	ErrIncomplete = errors.New("incomplete frame")
	// ErrBufferOverflow means the peer sent more than MaxBuffer without completing a frame.
	ErrBufferOverflow = errors.New("event socket buffer overflow")
	// ErrMalformed means the frame cannot be parsed.
	ErrMalformed = errors.New("malformed frame")
)

var headerEnd = []byte("\n\n")

// Frame is one header block plus its optional body.
type Frame struct {
	Headers map[string]string
	Body    []byte
	// Event is the decoded body of text/event-json frames.
	Event gjson.Result
}

// Header returns a header value; keys are case-insensitive.
func (f *Frame) Header(key string) string {
	return f.Headers[strings.ToLower(key)]
}

// ContentType returns the content-type header.
func (f *Frame) ContentType() string {
	return f.Headers["content-type"]
}

// Is reports whether the frame has the given content type.
func (f *Frame) Is(contentType string) bool {
	return f.ContentType() == contentType
}

// IsOK reports whether the frame is a successful command reply.
func (f *Frame) IsOK() bool {
	return f.Is(ContentTypeCommandReply) && strings.HasPrefix(f.Header("reply-text"), "+OK")
}

// IsEvent reports whether the frame carries an event.
func (f *Frame) IsEvent() bool {
	return strings.HasPrefix(f.ContentType(), "text/event-")
}

// ParseFrame decodes the first frame in data and returns it along with the
// number of bytes it used. It returns ErrIncomplete while the header block or
// the declared body is still partial, so callers can append more input and
// retry with the same prefix.
func ParseFrame(data []byte) (*Frame, int, error) {
	if len(data) > MaxBuffer {
		return nil, 0, ErrBufferOverflow
	}
	hend := bytes.Index(data, headerEnd)
	if hend == -1 {
		return nil, 0, ErrIncomplete
	}

	headers := make(map[string]string)
	for _, line := range strings.Split(string(data[:hend]), "\n") {
		key, val, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, 0, fmt.Errorf("%w: bad header %q", ErrMalformed, line)
		}
		headers[strings.ToLower(key)] = val
	}
	if headers["content-type"] == "" {
		return nil, 0, fmt.Errorf("%w: missing content-type", ErrMalformed)
	}

	f := &Frame{Headers: headers}
	start := hend + len(headerEnd)
	end := start
	if cl, ok := headers["content-length"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, 0, fmt.Errorf("%w: bad content-length %q", ErrMalformed, cl)
		}
		if len(data)-start < n {
			return nil, 0, ErrIncomplete
		}
		end = start + n
		f.Body = append([]byte(nil), data[start:end]...)
	}

	if f.Is(ContentTypeEventJSON) {
		if !gjson.ValidBytes(f.Body) {
			return nil, 0, fmt.Errorf("%w: invalid event json", ErrMalformed)
		}
		f.Event = gjson.ParseBytes(f.Body)
	}
	return f, end, nil
}
