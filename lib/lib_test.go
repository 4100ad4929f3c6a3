package lib

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDelimiter(t *testing.T) {
	fixtures := []struct {
		name             string
		currentDelimiter string
		newDelimiter     string
		expected         string
	}{
		{"INBOX", "", "", "INBOX"},
		{"INBOX", "/", "", "INBOX"},
		{"INBOX", "", CanonicalDelimiter, "INBOX"},
		{"INBOX", CanonicalDelimiter, CanonicalDelimiter, "INBOX"},
		{"Archive/2024", "/", CanonicalDelimiter, "Archive.2024"},
		{"Archive.2024", CanonicalDelimiter, "/", "Archive/2024"},
		{"Archive/v1.2", "/", CanonicalDelimiter, "Archive.v1\\.2"},
		{"Archive#Work#Mail", "#", CanonicalDelimiter, "Archive.Work.Mail"},
	}

	for _, fixture := range fixtures {
		result := VerifyDelimiter(fixture.name, fixture.currentDelimiter, fixture.newDelimiter)
		assert.Equal(t, fixture.expected, result)
	}
}
