package helper

import (
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	validPhoneFormat = regexp.MustCompile(`^[\d\s\+\-\(\)\.]+$`)
	nonDigit         = regexp.MustCompile(`[^\d]`)
)

// FormatPhoneNumber turns a recipient given as an international phone number
// (any of "+55 (11) 98888-7777", "5511988887777") or as a full JID into a JID.
func FormatPhoneNumber(phone string) (types.JID, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return types.JID{}, fmt.Errorf("phone number is empty")
	}

	if strings.Contains(phone, "@") {
		jid, err := types.ParseJID(phone)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid jid: %w", err)
		}
		if jid.User == "" {
			return types.JID{}, fmt.Errorf("invalid jid: missing user")
		}
		return jid, nil
	}

	if !validPhoneFormat.MatchString(phone) {
		return types.JID{}, fmt.Errorf("invalid phone number format: contains invalid characters")
	}

	cleaned := nonDigit.ReplaceAllString(phone, "")

	// E.164 allows at most 15 digits; nothing real is shorter than 8 with country code
	if len(cleaned) < 8 {
		return types.JID{}, fmt.Errorf("phone number too short")
	}
	if len(cleaned) > 15 {
		return types.JID{}, fmt.Errorf("phone number too long")
	}
	if strings.HasPrefix(cleaned, "0") {
		return types.JID{}, fmt.Errorf("phone number must include the country code, without leading 0")
	}

	return types.JID{
		User:   cleaned,
		Server: types.DefaultUserServer,
	}, nil
}

// ExtractPhoneFromJID strips the device and server parts of a JID string.
func ExtractPhoneFromJID(jid string) string {
	// "6285148107612:43@s.whatsapp.net" -> "6285148107612"
	beforeAt, _, _ := strings.Cut(jid, "@")
	user, _, _ := strings.Cut(beforeAt, ":")
	return user
}
