package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/shopspring/decimal"
)

// PrintExtra is an extra as it appears on a printed ticket.
type PrintExtra struct {
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price,omitempty"`
}

// ExtraList is an ordered list of extras. The backend sends extras either as
// a list ([{"name":..,"price":..}] or ["name", ...]) or as an object keyed by
// name or id; all of them decode into the same ordered slice, keeping the
// order in which they appear in the document.
type ExtraList []PrintExtra

// FromExtras converts order extras into print extras.
func FromExtras(extras []order.Extra) ExtraList {
	out := make(ExtraList, 0, len(extras))
	for _, e := range extras {
		p := e.Price
		out = append(out, PrintExtra{Name: e.Name, Price: &p})
	}
	return out
}

// extraObject covers the object shapes seen for a single extra.
type extraObject struct {
	Name   string           `json:"name"`
	Nombre string           `json:"nombre"`
	Price  *decimal.Decimal `json:"price"`
	Precio *decimal.Decimal `json:"precio"`
}

func (o extraObject) toPrintExtra(fallbackName string) PrintExtra {
	pe := PrintExtra{Name: o.Name, Price: o.Price}
	if pe.Name == "" {
		pe.Name = o.Nombre
	}
	if pe.Name == "" {
		pe.Name = fallbackName
	}
	if pe.Price == nil {
		pe.Price = o.Precio
	}
	return pe
}

func (l *ExtraList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = ExtraList{}
		return nil
	}

	switch data[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("extras list: %w", err)
		}
		out := make(ExtraList, 0, len(raw))
		for i, r := range raw {
			pe, err := decodeExtra(r, "")
			if err != nil {
				return fmt.Errorf("extras[%d]: %w", i, err)
			}
			out = append(out, pe)
		}
		*l = out
		return nil

	case '{':
		out, err := decodeExtraMap(data)
		if err != nil {
			return err
		}
		*l = out
		return nil
	}
	return fmt.Errorf("extras: unsupported JSON value %s", string(data))
}

// decodeExtra accepts "name", {"name":..,"price":..} or a bare price keyed elsewhere.
func decodeExtra(r json.RawMessage, key string) (PrintExtra, error) {
	r = bytes.TrimSpace(r)
	if len(r) == 0 {
		return PrintExtra{Name: key}, nil
	}
	switch r[0] {
	case '"':
		var name string
		if err := json.Unmarshal(r, &name); err != nil {
			return PrintExtra{}, err
		}
		if key != "" {
			// {"Queso": "1500"}: key is the name, value is the price.
			if d, err := decimal.NewFromString(name); err == nil {
				return PrintExtra{Name: key, Price: &d}, nil
			}
		}
		return PrintExtra{Name: name}, nil
	case '{':
		var obj extraObject
		if err := json.Unmarshal(r, &obj); err != nil {
			return PrintExtra{}, err
		}
		return obj.toPrintExtra(key), nil
	case 't', 'f', 'n':
		return PrintExtra{Name: key}, nil
	default:
		var d decimal.Decimal
		if err := json.Unmarshal(r, &d); err != nil {
			return PrintExtra{}, err
		}
		return PrintExtra{Name: key, Price: &d}, nil
	}
}

// decodeExtraMap walks the object token by token so document order survives.
func decodeExtraMap(data []byte) (ExtraList, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("extras map: %w", err)
	}

	out := ExtraList{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("extras map: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("extras map: unexpected key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("extras[%q]: %w", key, err)
		}
		pe, err := decodeExtra(raw, key)
		if err != nil {
			return nil, fmt.Errorf("extras[%q]: %w", key, err)
		}
		out = append(out, pe)
	}
	return out, nil
}
