package catalog

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Schema describes catalog files in either array or object form.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	entrySchema := reflector.ReflectFromType(reflect.TypeOf(EntryDocument{}))
	entrySchema.Version = ""
	entrySchema.Title = "Ability Catalog Entry"
	entrySchema.Description = "Designer-authored timing overrides for one registered ability."

	arraySchema := &jsonschema.Schema{
		Type:        "array",
		Title:       "Array Catalog",
		Description: "Ability catalog expressed as an array of entry objects.",
		Items:       entrySchema,
	}

	objectSchema := &jsonschema.Schema{
		Type:                 "object",
		Title:                "Object Catalog",
		Description:          "Ability catalog expressed as an object keyed by ability ID.",
		AdditionalProperties: entrySchema,
	}

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Unicopia Ability Catalog",
		Description: "Timing and cost overrides consumed by the ability coordinator at bootstrap.",
		OneOf:       []*jsonschema.Schema{arraySchema, objectSchema},
	}
}

// MarshalSchema renders Schema as indented JSON with a trailing newline.
func MarshalSchema() ([]byte, error) {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
