// Package content extracts the header projection used by searches from a raw message.
package content

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// MaxSize is the size of the largest message: sizes are 32 bits
const MaxSize int64 = math.MaxUint32

var sizeLimit = MaxSize

const (
	defaultMediaType = "text/plain"
	unknownMediaType = "application/octet-stream"
)

// Projection is what the store keeps from a message for searching.
type Projection struct {
	Headers   []mailbox.Header
	MediaType string
	// Body without the header block.
	Body []byte
	// Size of the full message.
	Size uint32
}

// Parse reads a full message. Encoded words in the header values are decoded when possible.
func Parse(r io.Reader) (*Projection, error) {
	counter := &countingReader{reader: io.LimitReader(r, sizeLimit+1)}
	reader := bufio.NewReader(counter)
	header, err := textproto.ReadHeader(reader)
	if err != nil {
		return nil, fmt.Errorf("reading message header: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}

	if counter.count > sizeLimit {
		return nil, fmt.Errorf("message larger than %d bytes: %w", sizeLimit, lib.ErrMessageTooLarge)
	}

	projection := &Projection{
		Headers:   Headers(header),
		MediaType: mediaType(header),
		Body:      body,
		Size:      uint32(counter.count),
	}
	return projection, nil
}

// ParseBytes is Parse on a message in memory.
func ParseBytes(raw []byte) (*Projection, error) {
	return Parse(bytes.NewReader(raw))
}

// Headers lists the fields of a header block, in order.
func Headers(header textproto.Header) []mailbox.Header {
	h := message.Header{Header: header}
	headers := make([]mailbox.Header, 0, h.Len())
	fields := h.Fields()
	position := 0
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		headers = append(headers, mailbox.Header{
			Name:     fields.Key(),
			Value:    value,
			Position: position,
		})
		position++
	}
	return headers
}

func mediaType(header textproto.Header) string {
	if !header.Has("Content-Type") {
		return defaultMediaType
	}
	h := message.Header{Header: header}
	mediaType, _, err := h.ContentType()
	if err != nil || mediaType == "" {
		return unknownMediaType
	}
	return mediaType
}

type countingReader struct {
	reader io.Reader
	count  int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.count += int64(n)
	return n, err
}
