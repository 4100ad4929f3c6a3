package lib

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/emersion/go-imap"
)

const charset = "abcdefghijklmnopqrstuvwxyz " +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 " +
	",./;'\\ \" []{}<>?:|!@£$%^&*()_+-= " +
	"\r\n\r\n\r\n "

const template = "From: %s\r\n" +
	"To: %s\r\n" +
	"Subject: Generated message #%d\r\n" +
	"Date: %s\r\n" +
	"Message-ID: <%d@localhost/>\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n%s"

var seededRand *rand.Rand = rand.New(
	rand.NewSource(time.Now().UnixMilli()))

var generatedFlags = []string{
	imap.SeenFlag,
	imap.AnsweredFlag,
	imap.FlaggedFlag,
	imap.DraftFlag,
	"$Forwarded",
	"$Junk",
}

func stringWithCharset(length int, charset string) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[seededRand.Intn(len(charset))]
	}
	return string(b)
}

// GenerateEmail returns a plain text message with a random body between minSize and maxSize bytes
func GenerateEmail(from, to string, id uint32, minSize, maxSize int) []byte {
	length := minSize
	if maxSize > minSize {
		length += seededRand.Intn(maxSize - minSize)
	}
	date := GenerateDateFrom(time.Date(2010, 1, 1, 12, 0, 0, 0, time.UTC))
	msg := fmt.Sprintf(template, from, to, id, date.Format(time.RFC1123Z), id, stringWithCharset(length, charset))
	return []byte(msg)
}

// GenerateDateFrom returns a random date between from and now
func GenerateDateFrom(from time.Time) time.Time {
	span := time.Since(from)
	if span <= 1 {
		return from
	}
	return from.Add(time.Duration(seededRand.Int63n(int64(span)-1) + 1))
}

// GenerateFlags returns a random set of less than maxFlags flags (never \Recent)
func GenerateFlags(maxFlags int) []string {
	if maxFlags <= 1 {
		return []string{}
	}
	count := seededRand.Intn(maxFlags)
	if count > len(generatedFlags) {
		count = len(generatedFlags)
	}
	flags := make([]string, 0, count)
	for _, index := range seededRand.Perm(len(generatedFlags))[:count] {
		flags = append(flags, generatedFlags[index])
	}
	return flags
}
