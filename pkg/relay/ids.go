// Copyright 2024-2026 Aiku AI

package relay

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// Identity is a phone number in E.164 form. It is the only key used by the
// session store and the forwarding registry.
type Identity string

// Digits returns the identity without the leading plus sign.
func (i Identity) Digits() string {
	return strings.TrimPrefix(string(i), "+")
}

func (i Identity) String() string {
	return string(i)
}

// NormalizeIdentity converts a user supplied phone number into an Identity.
// Separators are stripped and the number is formatted as E.164. Numbers
// without a leading "+" are parsed in defaultRegion; when defaultRegion is
// empty the digits are assumed to start with the country code.
func NormalizeIdentity(raw, defaultRegion string) (Identity, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r), r == '-', r == '(', r == ')', r == '.':
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return "", &Error{Kind: KindInvalidIdentity, Detail: "phone number is empty"}
	}
	if strings.HasPrefix(cleaned, "00") {
		cleaned = "+" + cleaned[2:]
	}
	if !strings.HasPrefix(cleaned, "+") && defaultRegion == "" {
		cleaned = "+" + cleaned
	}

	num, err := phonenumbers.Parse(cleaned, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", &Error{Kind: KindInvalidIdentity, Detail: "invalid phone number " + strconv.Quote(raw), Err: err}
	}
	return Identity(phonenumbers.Format(num, phonenumbers.E164)), nil
}

// ChannelID identifies a chat using the marked convention of Telegram
// clients: users are positive, basic groups are -id and channels or
// supergroups are -100<id>.
type ChannelID int64

func (c ChannelID) String() string {
	return strconv.FormatInt(int64(c), 10)
}
