package tools

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/modfin/henry/slicez"
)

// NormalizeEmail trims and lower-cases an address. Addresses are normalized at
// every ingress so that recipient dedupe is case-insensitive.
func NormalizeEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func ValidEmail(address string) bool {
	_, err := mail.ParseAddress(address)
	return err == nil
}

func DomainOfEmail(address string) (string, error) {
	parts := strings.Split(address, "@")
	if len(parts) < 2 {
		return "", errors.New("no domain was present in email address")
	}
	return slicez.Nth(parts, -1), nil
}
