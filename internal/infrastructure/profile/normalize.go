package profile

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-verify-handoff/internal/domain"
)

// providerError detects an error embedded in a 200 body. The provider signals
// failure with a non-null "error" or "code" key.
func providerError(raw map[string]interface{}) (string, bool) {
	errVal, hasErr := raw["error"]
	codeVal, hasCode := raw["code"]
	if (!hasErr || errVal == nil) && (!hasCode || codeVal == nil) {
		return "", false
	}
	switch e := errVal.(type) {
	case map[string]interface{}:
		if msg := str(e["message"]); msg != "" {
			return msg, true
		}
	case string:
		if e != "" {
			return e, true
		}
	}
	if msg := str(raw["message"]); msg != "" {
		return msg, true
	}
	return "verification failed", true
}

// Normalize maps the provider's loosely shaped profile body onto domain.Profile.
func Normalize(raw map[string]interface{}) *domain.Profile {
	p := &domain.Profile{
		PhoneNumber: firstNonEmpty(
			first(raw["phoneNumbers"]),
			str(raw["phoneNumber"]),
			str(object(raw["payload"])["phoneNumber"]),
		),
		FirstName: firstNonEmpty(str(object(raw["name"])["first"]), str(raw["firstName"])),
		LastName:  firstNonEmpty(str(object(raw["name"])["last"]), str(raw["lastName"])),
		Email:     firstNonEmpty(str(raw["email"]), str(object(raw["onlineIdentities"])["email"])),
		AvatarURL: str(raw["avatarUrl"]),
	}
	p.Name = strings.TrimSpace(p.FirstName + " " + p.LastName)

	addr := object(firstValue(raw["addresses"]))
	p.CountryCode = firstNonEmpty(str(raw["countryCode"]), str(addr["countryCode"]))
	p.City = str(addr["city"])
	return p
}

func object(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func firstValue(v interface{}) interface{} {
	if arr, ok := v.([]interface{}); ok && len(arr) > 0 {
		return arr[0]
	}
	return nil
}

func first(v interface{}) string {
	return str(firstValue(v))
}

// str renders strings and JSON numbers; phone numbers arrive as either.
func str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
