package utils

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const nanoIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateNanoIDWithPrefix produces ids like "acct_x7f93k...".
func GenerateNanoIDWithPrefix(prefix string, length int) string {
	id, err := gonanoid.Generate(nanoIDAlphabet, length)
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%s_%s", prefix, id)
}

// GenerateClientID produces the client-side correlation id attached to
// create commands so batched, unordered responses can be matched back.
func GenerateClientID() string {
	id, err := gonanoid.Generate(nanoIDAlphabet, 12)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateDeviceID produces the device identity presented to the server.
// Exchange limits it to 32 alphanumeric characters.
func GenerateDeviceID() string {
	u := uuid.New()
	hex := fmt.Sprintf("%x", u[:])
	return hex[:32]
}
