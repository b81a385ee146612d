package formater

import (
	"bytes"
	"encoding/json"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// JSON writes one compact JSON object per record.
type JSON struct{}

func (JSON) ContentType() string { return ContentJSON }

func (JSON) Format(v any) (Encoded, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Encoded{}, &FormatError{ContentType: ContentJSON, Err: err}
	}
	return Text(string(b)), nil
}

func (JSON) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// YAML writes a YAML document per record.
type YAML struct{}

func (YAML) ContentType() string { return ContentYAML }

func (YAML) Format(v any) (out Encoded, err error) {
	// yaml.v3 panics on some unsupported types.
	defer func() {
		if r := recover(); r != nil {
			out, err = Encoded{}, &FormatError{ContentType: ContentYAML, Err: yamlPanic{r}}
		}
	}()
	b, err := yaml.Marshal(plain(v))
	if err != nil {
		return Encoded{}, &FormatError{ContentType: ContentYAML, Err: err}
	}
	return Text(string(b)), nil
}

func (YAML) Decode(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

type yamlPanic struct{ v any }

func (p yamlPanic) Error() string {
	if err, ok := p.v.(error); ok {
		return err.Error()
	}
	return "yaml encoder panic"
}

// TOML writes a TOML table per record. Only maps and structs encode.
type TOML struct{}

func (TOML) ContentType() string { return ContentTOML }

func (TOML) Format(v any) (Encoded, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(plain(v)); err != nil {
		return Encoded{}, &FormatError{ContentType: ContentTOML, Err: err}
	}
	return Text(buf.String()), nil
}

func (TOML) Decode(data []byte, v any) error {
	return toml.Unmarshal(data, v)
}
