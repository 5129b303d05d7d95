package dataset

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// Count is an integer metric that tolerates float and exponent encodings
// ("1.2E7") seen in some dumps.
type Count int64

func (c *Count) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*c = Count(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("count: not a number: %s", s)
	}
	f = math.Round(f)
	// -2^63 is exact in float64; 2^63 is the first value past MaxInt64.
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return fmt.Errorf("count: out of int64 range: %s", s)
	}
	*c = Count(f)
	return nil
}

func countOr0(c *Count) int64 {
	if c == nil {
		return 0
	}
	return int64(*c)
}

func floatOr0(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func nameOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

// Instrument is one count/amount breakdown entry.
type Instrument struct {
	Type   *string  `json:"type"`
	Count  *Count   `json:"count"`
	Amount *float64 `json:"amount"`
}

type Category struct {
	Name               *string      `json:"name"`
	PaymentInstruments []Instrument `json:"paymentInstruments"`
}

// TransactionPayload covers aggregated transaction and insurance files.
// A nil TransactionData means the key was absent or null.
type TransactionPayload struct {
	TransactionData *[]Category `json:"transactionData"`
}

type Device struct {
	Brand      *string  `json:"brand"`
	Count      *Count   `json:"count"`
	Percentage *float64 `json:"percentage"`
}

// UserPayload covers aggregated user files. Only usersByDevice and
// totalUsers feed rows.
type UserPayload struct {
	UsersByDevice []Device `json:"usersByDevice"`
	TotalUsers    *Count   `json:"totalUsers"`
}

type HoverDistrict struct {
	Name   *string      `json:"name"`
	Metric []Instrument `json:"metric"`
}

type MapTransactionPayload struct {
	HoverDataList *[]HoverDistrict `json:"hoverDataList"`
}

type DistrictUsers struct {
	RegisteredUsers *Count `json:"registeredUsers"`
	AppOpens        *Count `json:"appOpens"`
}

type MapUserPayload struct {
	HoverData *HoverData `json:"hoverData"`
}

// HoverDistrictUsers is one hoverData entry.
type HoverDistrictUsers struct {
	Name string
	DistrictUsers
}

// HoverData is the hoverData object decoded as a list in document order.
type HoverData []HoverDistrictUsers

func (h *HoverData) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("hoverData: want object, got %v", tok)
	}

	out := HoverData{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("hoverData: want district name, got %v", tok)
		}
		var u DistrictUsers
		if err := dec.Decode(&u); err != nil {
			return fmt.Errorf("hoverData %q: %w", name, err)
		}
		out = append(out, HoverDistrictUsers{Name: name, DistrictUsers: u})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*h = out
	return nil
}

type TopTransactionEntity struct {
	EntityName *string `json:"entityName"`
	Metric     *struct {
		Count  *Count   `json:"count"`
		Amount *float64 `json:"amount"`
	} `json:"metric"`
}

type TopTransactionPayload struct {
	Districts []TopTransactionEntity `json:"districts"`
	Pincodes  []TopTransactionEntity `json:"pincodes"`
}

type TopUserEntity struct {
	Name            *string `json:"name"`
	RegisteredUsers *Count  `json:"registeredUsers"`
}

type TopUserPayload struct {
	Districts []TopUserEntity `json:"districts"`
	Pincodes  []TopUserEntity `json:"pincodes"`
}

// Envelope is the top-level shape of every corpus file.
type Envelope struct {
	Data json.RawMessage `json:"data"`
}

// DecodeEnvelope extracts the raw payload under "data". A missing or null
// "data" yields a nil payload and no error.
func DecodeEnvelope(b []byte) (json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	if isNull(env.Data) {
		return nil, nil
	}
	return env.Data, nil
}

func isNull(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// isEmpty reports whether a payload carries no data at all: absent, null,
// or an empty object.
func isEmpty(raw []byte) bool {
	if isNull(raw) {
		return true
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return len(m) == 0
}

func decodeInto(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
