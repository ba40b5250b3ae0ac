package utils // import "github.com/hackrange/hackrange/backend/services/utils"

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// RandHex creates a hexadecimal string with the provided number of bytes of
// randomness. Therefore, the output string will have length 2 * numBytes.
func RandHex(numBytes uint8) string {
	b := make([]byte, numBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// The following two functions exist so that we don't have to import `fmt`
// into any other packages (so we don't accidentally log something using `fmt`
// functions instead of using the `rangelogger` equivalents that send
// information to Sentry).

// Sprintf creates a string from format string and args.
func Sprintf(format string, v ...interface{}) string {
	return fmt.Sprintf(format, v...)
}

// MakeError creates an error from format string and args.
func MakeError(format string, v ...interface{}) error {
	return fmt.Errorf(format, v...)
}

// Note: We use this value as a placeholder UUID because it is obvious and
// immediate when parsing/searching through logs, and by using a non nil
// placeholder UUID we are able to detect the error when a UUID is nil.

// PlaceholderTestUUID returns the special uuid to use as a placeholder during tests.
func PlaceholderTestUUID() uuid.UUID {
	uuid, _ := uuid.Parse("22222222-2222-2222-2222-222222222222")
	return uuid
}
