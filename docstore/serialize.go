package docstore

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// jsonMarshal/jsonUnmarshal are used for structural data kvdoc itself
// defines (the large-collection manifest), independent of a collection's
// own configurable Serialize/Deserialize codec for user documents.
func jsonMarshal(v any) ([]byte, error)  { return json.Marshal(v) }
func jsonUnmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

func defaultSerialize(d Doc) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("docstore: serialize document: %w", err)
	}
	return b, nil
}

func defaultDeserialize(b []byte) (Doc, error) {
	var d Doc
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("docstore: deserialize document: %w", err)
	}
	return d, nil
}

// YAMLSerialize and YAMLDeserialize are a drop-in alternative to the
// default JSON codec, for collections whose documents are more useful
// stored as readable YAML (e.g. configuration or content-heavy
// documents meant to be hand-edited via direct store access).
func YAMLSerialize(d Doc) ([]byte, error) {
	b, err := yaml.Marshal(map[string]any(d))
	if err != nil {
		return nil, fmt.Errorf("docstore: yaml serialize document: %w", err)
	}
	return b, nil
}

func YAMLDeserialize(b []byte) (Doc, error) {
	var d Doc
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("docstore: yaml deserialize document: %w", err)
	}
	return d, nil
}

// stringify renders an arbitrary field value for use as an index key
// fragment: fmt's default verb, so numbers, bools, and strings all
// produce a stable textual form.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
