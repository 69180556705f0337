package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ============================================================
// Records (transactions)
// ============================================================

// RecordTypeExpense is the recordType of outgoing records.
const RecordTypeExpense = "expense"

// Record is one Wallet record. RecordDate, RecordType and BaseAmount are
// parsed; Fields keeps the full upstream object so it survives a round trip.
type Record struct {
	RecordDate string
	RecordType string
	BaseAmount *BaseAmount
	Fields     map[string]json.RawMessage
}

// BaseAmount is the amount of a record in the user's base currency.
type BaseAmount struct {
	CurrencyCode string
	Value        json.RawMessage
}

// Number returns the amount when it is a JSON number.
func (b *BaseAmount) Number() (float64, bool) {
	if b == nil {
		return 0, false
	}
	v := bytes.TrimSpace(b.Value)
	if len(v) == 0 || !(v[0] == '-' || (v[0] >= '0' && v[0] <= '9')) {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// NewRecord builds a record from its interpreted fields.
func NewRecord(recordDate, recordType string, amount *BaseAmount) Record {
	r := Record{
		RecordDate: recordDate,
		RecordType: recordType,
		BaseAmount: amount,
		Fields:     map[string]json.RawMessage{},
	}
	if recordDate != "" {
		r.Fields["recordDate"], _ = json.Marshal(recordDate)
	}
	if recordType != "" {
		r.Fields["recordType"], _ = json.Marshal(recordType)
	}
	if amount != nil {
		r.Fields["baseAmount"], _ = json.Marshal(amount)
	}
	return r
}

// Time parses RecordDate. Records without a parseable date report false.
func (r Record) Time() (time.Time, bool) {
	if r.RecordDate == "" {
		return time.Time{}, false
	}
	s := r.RecordDate
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// UnmarshalJSON keeps every field and extracts the ones the pipeline reads.
// Fields of an unexpected JSON type are left unparsed.
func (r *Record) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = Record{Fields: fields}
	if v, ok := fields["recordDate"]; ok {
		_ = json.Unmarshal(v, &r.RecordDate)
	}
	if v, ok := fields["recordType"]; ok {
		_ = json.Unmarshal(v, &r.RecordType)
	}
	if v, ok := fields["baseAmount"]; ok {
		var amount BaseAmount
		if err := json.Unmarshal(v, &amount); err == nil {
			r.BaseAmount = &amount
		}
	}
	return nil
}

// MarshalJSON writes the upstream object unchanged.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Fields == nil {
		return json.Marshal(NewRecord(r.RecordDate, r.RecordType, r.BaseAmount).Fields)
	}
	return json.Marshal(r.Fields)
}

// UnmarshalJSON accepts any object; a non-string currencyCode is ignored.
func (b *BaseAmount) UnmarshalJSON(data []byte) error {
	var aux struct {
		CurrencyCode json.RawMessage `json:"currencyCode"`
		Value        json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*b = BaseAmount{Value: aux.Value}
	if len(aux.CurrencyCode) > 0 {
		_ = json.Unmarshal(aux.CurrencyCode, &b.CurrencyCode)
	}
	return nil
}

// MarshalJSON writes currencyCode and value.
func (b BaseAmount) MarshalJSON() ([]byte, error) {
	value := b.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return json.Marshal(struct {
		CurrencyCode string          `json:"currencyCode"`
		Value        json.RawMessage `json:"value"`
	}{b.CurrencyCode, value})
}
