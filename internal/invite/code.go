package invite

import (
	"github.com/cockroachdb/errors"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Unambiguous upper-case alphabet, easy to read out loud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 10

// NewInviteCode returns a short shareable invite code.
func NewInviteCode() (string, error) {
	code, err := gonanoid.Generate(codeAlphabet, codeLength)
	if err != nil {
		return "", errors.Wrap(err, "generate invite code")
	}
	return code, nil
}
