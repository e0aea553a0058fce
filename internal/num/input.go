package num

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Input is a numeric request field. It remembers whether the field was sent
// at all and keeps the raw text, so a garbled value is reported instead of
// being read as zero. JSON numbers and numeric strings are both accepted.
type Input struct {
	raw     string
	present bool
}

func (in *Input) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*in = Input{}
		return nil
	}
	in.present = true
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			in.raw = string(trimmed)
			return nil
		}
		in.raw = s
		return nil
	}
	in.raw = string(trimmed)
	return nil
}

func (in Input) MarshalJSON() ([]byte, error) {
	if !in.present {
		return []byte("null"), nil
	}
	if d, err := Parse(in.raw); err == nil {
		return []byte(d.String()), nil
	}
	return json.Marshal(in.raw)
}

func (in Input) Present() bool { return in.present }

func (in Input) Raw() string { return in.raw }

func (in Input) Decimal() (decimal.Decimal, error) {
	return Parse(in.raw)
}

// Or returns fallback when the field was absent. A present but malformed
// value is an error, never the fallback.
func (in Input) Or(fallback decimal.Decimal) (decimal.Decimal, error) {
	if !in.present {
		return fallback, nil
	}
	return Parse(in.raw)
}
