package content

import (
	"strings"
	"testing"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMessage = "From: contact@example.org\r\n" +
	"To: contact@example.org\r\n" +
	"Subject: =?utf-8?q?Hello_World?=\r\n" +
	"Received: from a\r\n" +
	"Received: from b\r\n" +
	"Content-Type: text/HTML; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Hi there :)</p>"

func TestParse(t *testing.T) {
	projection, err := Parse(strings.NewReader(sampleMessage))
	require.NoError(t, err)

	assert.Equal(t, uint32(len(sampleMessage)), projection.Size)
	assert.Equal(t, "text/html", projection.MediaType)
	assert.Equal(t, []byte("<p>Hi there :)</p>"), projection.Body)
	require.Len(t, projection.Headers, 6)
	assert.Equal(t, mailbox.Header{Name: "From", Value: "contact@example.org", Position: 0}, projection.Headers[0])
	assert.Equal(t, mailbox.Header{Name: "Subject", Value: "Hello World", Position: 2}, projection.Headers[2])
	assert.Equal(t, "from a", projection.Headers[3].Value)
	assert.Equal(t, "from b", projection.Headers[4].Value)
}

func TestDefaultMediaType(t *testing.T) {
	projection, err := ParseBytes([]byte("Subject: test\r\n\r\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", projection.MediaType)

	projection, err = ParseBytes([]byte("Content-Type: ;;\r\n\r\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", projection.MediaType)
}

func TestParseHeaderOnly(t *testing.T) {
	projection, err := ParseBytes([]byte("Subject: no body\r\n\r\n"))
	require.NoError(t, err)
	assert.Empty(t, projection.Body)
	assert.Equal(t, "no body", projection.Headers[0].Value)
}

func TestMessageTooLarge(t *testing.T) {
	defer func(limit int64) { sizeLimit = limit }(sizeLimit)
	sizeLimit = 32

	raw := "Subject: test\r\n\r\n" + strings.Repeat("x", 15)
	require.Len(t, raw, 32)
	projection, err := ParseBytes([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, uint32(32), projection.Size)

	_, err = ParseBytes([]byte(raw + "x"))
	assert.ErrorIs(t, err, lib.ErrMessageTooLarge)
}
