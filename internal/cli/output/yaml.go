package output

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats data as YAML.
type YAMLFormatter struct {
	// Separate starts every value with a document marker.
	Separate bool
}

func (f *YAMLFormatter) Format(w io.Writer, data any) error {
	if f.Separate {
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}
