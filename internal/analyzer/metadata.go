package analyzer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Optional holds a metadata field that may be absent, explicitly null, or set.
type Optional[T any] struct {
	value   T
	present bool
	null    bool
}

// Get returns the value and true only when the field is present and not null.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.present && !o.null
}

// IsNull reports whether the field was present with an explicit null.
func (o Optional[T]) IsNull() bool { return o.present && o.null }

// IsAbsent reports whether the key was missing altogether.
func (o Optional[T]) IsAbsent() bool { return !o.present }

// OrElse returns the value, or def when it is absent or null.
func (o Optional[T]) OrElse(def T) T {
	if v, ok := o.Get(); ok {
		return v
	}
	return def
}

// Metadata is the subset of meta.json the harvester consumes.
type Metadata struct {
	Title               Optional[string]
	License             Optional[string]
	Features            Optional[[]string]
	BrandingProjectName Optional[string]
	Country             Optional[string]
	SubscriptionCode    Optional[string]
}

// ParseMetadata decodes meta.json. An empty document yields empty metadata.
func ParseMetadata(raw string) (*Metadata, error) {
	meta := &Metadata{}
	if strings.TrimSpace(raw) == "" {
		return meta, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	decoders := []struct {
		key string
		dst func(json.RawMessage) error
	}{
		{"title", field(&meta.Title)},
		{"license", field(&meta.License)},
		{"features", field(&meta.Features)},
		{"brandingProjectName", field(&meta.BrandingProjectName)},
		{"country", field(&meta.Country)},
		{"subscriptionCode", field(&meta.SubscriptionCode)},
	}
	for _, d := range decoders {
		data, ok := fields[d.key]
		if !ok {
			continue
		}
		if err := d.dst(data); err != nil {
			return nil, fmt.Errorf("failed to parse metadata field %q: %w", d.key, err)
		}
	}
	return meta, nil
}

func field[T any](o *Optional[T]) func(json.RawMessage) error {
	return func(data json.RawMessage) error {
		o.present = true
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			o.null = true
			return nil
		}
		return json.Unmarshal(data, &o.value)
	}
}

// SignLanguageCode returns the code of the first "signLanguage:<code>" feature.
func (m *Metadata) SignLanguageCode() string {
	features, _ := m.Features.Get()
	for _, f := range features {
		if code, ok := strings.CutPrefix(f, "signLanguage:"); ok && code != "" {
			return code
		}
	}
	return ""
}
