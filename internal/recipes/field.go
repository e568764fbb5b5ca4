package recipes

// FieldType selects how an input is rendered and validated.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldNumber   FieldType = "number"
	FieldSelect   FieldType = "select"
	FieldFile     FieldType = "file"
	FieldCheckbox FieldType = "checkbox"
)

// Option is one choice of a select field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FieldDescriptor declares one input a recipe accepts.
type FieldDescriptor struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Placeholder string    `json:"placeholder,omitempty"`
	HelpText    string    `json:"help_text,omitempty"`
	Default     any       `json:"default,omitempty"`
	Options     []Option  `json:"options,omitempty"`
	// Accept lists allowed upload types for file fields, e.g. "image/*".
	Accept string   `json:"accept,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// OptionValues returns the allowed values of a select field.
func (f FieldDescriptor) OptionValues() []string {
	values := make([]string, len(f.Options))
	for i, o := range f.Options {
		values[i] = o.Value
	}
	return values
}

// Rule is a cross-field CEL condition over the inputs. Message is reported
// when Expression evaluates to false.
type Rule struct {
	Expression string `json:"expression"`
	Message    string `json:"message"`
}

// Bound returns a pointer to v, for FieldDescriptor.Min and Max.
func Bound(v float64) *float64 { return &v }
