package lib

import "strings"

// CanonicalDelimiter is the hierarchy delimiter used by all the storage keys.
const CanonicalDelimiter = "."

// VerifyDelimiter converts a mailbox name from existingDelimiter to expectedDelimiter.
// Occurrences of the expected delimiter inside a name segment are escaped first.
func VerifyDelimiter(name, existingDelimiter, expectedDelimiter string) string {
	if existingDelimiter == expectedDelimiter || existingDelimiter == "" || expectedDelimiter == "" {
		return name
	}
	name = strings.ReplaceAll(name, expectedDelimiter, "\\"+expectedDelimiter)
	// TODO: verify we're not replacing \existingDelimiter (escaped delimiter)
	name = strings.ReplaceAll(name, existingDelimiter, expectedDelimiter)
	return name
}
