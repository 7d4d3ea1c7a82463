package crawler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// Field names one entry of the site-independent record vocabulary. The values
// are the keys written to the persisted snapshots.
type Field = string

// Record vocabulary.
const (
	FieldProcessorModel     Field = "model_procesoru"
	FieldProcessorCores     Field = "pocet_jader_procesoru"
	FieldProcessorFrequency Field = "frekvence_procesoru"
	FieldGPUModel           Field = "model_graficke_karty"
	FieldGPUMemory          Field = "pamet_graficke_karty"
	FieldStorageCapacity    Field = "kapacita_uloziste"
	FieldStorageType        Field = "typ_uloziste"
	FieldRAMSize            Field = "velikost_ram"
	FieldPowerSupply        Field = "zdroj"
	FieldFormFactor         Field = "provedeni_pocitace"
	FieldOperatingSystem    Field = "operacni_system"
	FieldBrand              Field = "znacka"
	FieldPrice              Field = "price"
)

// FieldURL is record metadata. It is persisted but never makes a record non-empty.
const FieldURL Field = "url"

// Fields lists the vocabulary in persisted order.
var Fields = []Field{
	FieldProcessorModel,
	FieldProcessorCores,
	FieldProcessorFrequency,
	FieldGPUModel,
	FieldGPUMemory,
	FieldStorageCapacity,
	FieldStorageType,
	FieldRAMSize,
	FieldPowerSupply,
	FieldFormFactor,
	FieldOperatingSystem,
	FieldBrand,
	FieldPrice,
}

// Record maps vocabulary fields to optional scalar values.
type Record map[Field]any

// Set stores v under f. Nil values and blank strings are ignored so a
// record never carries explicit empties.
func (r Record) Set(f Field, v any) {
	switch val := v.(type) {
	case nil:
		return
	case string:
		if val == "" {
			return
		}
	case *int:
		if val == nil {
			return
		}
		v = *val
	case *float64:
		if val == nil {
			return
		}
		v = *val
	}
	r[f] = v
}

// IsEmpty reports whether no vocabulary field holds a value.
func (r Record) IsEmpty() bool {
	for _, f := range Fields {
		if v, ok := r[f]; ok && v != nil && v != "" {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// MarshalJSON emits every vocabulary field in order, null when missing,
// followed by the url metadata when present.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	keys := Fields
	if _, ok := r[FieldURL]; ok {
		keys = append(append([]Field(nil), Fields...), FieldURL)
	}
	for i, f := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeJSON(&buf, f); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := encodeJSON(&buf, r[f]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// PageAction asks the page loader to perform one driver-level interaction on
// the current page (e.g. clicking a pagination control) instead of navigating.
type PageAction struct {
	// ClickSelector is the CSS selector of the element to click.
	ClickSelector string
}

// NextPage is what a strategy returns when pagination continues: either a URL
// to navigate to or an action for the loader to perform.
type NextPage struct {
	URL    string
	Action *PageAction
}

// FetchRequest captures everything needed to load one page.
type FetchRequest struct {
	URL         string
	SettleDelay time.Duration
	Action      *PageAction
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	UsedBrowser bool
}
