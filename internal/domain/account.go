package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ============================================================
// Accounts
// ============================================================

// Account is a Wallet account as returned by GET /v1/api/accounts.
// Only id and archived are interpreted; every other field is carried in Extra.
type Account struct {
	ID       string
	Archived bool
	Extra    map[string]json.RawMessage
}

// Active reports whether the account takes part in record fetches.
func (a Account) Active() bool {
	return !a.Archived
}

// UnmarshalJSON decodes an account leniently: a string or numeric id is
// accepted, and archived follows JSON truthiness (missing or null is false).
func (a *Account) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*a = Account{Extra: map[string]json.RawMessage{}}
	for k, v := range fields {
		switch k {
		case "id":
			a.ID = scalarText(v)
		case "archived":
			a.Archived = truthy(v)
		}
		a.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes the account back with all upstream fields.
func (a Account) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(a.Extra)+2)
	for k, v := range a.Extra {
		out[k] = v
	}
	if _, ok := out["id"]; !ok && a.ID != "" {
		out["id"], _ = json.Marshal(a.ID)
	}
	if _, ok := out["archived"]; !ok {
		out["archived"], _ = json.Marshal(a.Archived)
	}
	return json.Marshal(out)
}

func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 'n', 'f':
		return false
	case 't':
		return true
	case '"':
		var s string
		_ = json.Unmarshal(raw, &s)
		return s != ""
	case '[':
		var arr []json.RawMessage
		_ = json.Unmarshal(raw, &arr)
		return len(arr) > 0
	case '{':
		var obj map[string]json.RawMessage
		_ = json.Unmarshal(raw, &obj)
		return len(obj) > 0
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0
	}
}
