package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// placeholderName is the name clients send for contacts without one.
const placeholderName = "Sin nombre"

// Contact is one recipient of a bulk request. In JSON it is either a bare
// number string or an object {"number": ..., "name": ...}.
type Contact struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// UnmarshalJSON accepts both contact shapes. Numeric JSON values are kept
// as their literal text.
func (c *Contact) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = Contact{}
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Contact{Number: s}
		return nil
	case '{':
		var raw struct {
			Number json.RawMessage `json:"number"`
			Name   string          `json:"name"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		num, err := rawNumber(raw.Number)
		if err != nil {
			return err
		}
		*c = Contact{Number: num, Name: raw.Name}
		return nil
	default:
		num, err := rawNumber(b)
		if err != nil {
			return err
		}
		*c = Contact{Number: num}
		return nil
	}
}

func rawNumber(b json.RawMessage) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", fmt.Errorf("dispatch: contact number: %w", err)
	}
	return n.String(), nil
}

// displayName drops the client placeholder so history shows no name at all.
func displayName(name string) string {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, placeholderName) {
		return ""
	}
	return name
}
