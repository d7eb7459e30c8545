package tools

import "encoding/json"

// Intent is a tool invocation after validation: canonical filters, the
// clamped paging header, and one typed value per declared argument.
// Handlers read arguments through the typed accessors instead of
// re-parsing JSON.
type Intent struct {
	Tool     string            `json:"tool"`
	Filters  map[string]string `json:"filters,omitempty"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	Args     map[string]any    `json:"args,omitempty"`
}

// String returns a string argument, or the empty string when absent.
func (i *Intent) String(name string) string {
	v, _ := i.Args[name].(string)
	return v
}

// Int returns an int argument, or 0 when absent.
func (i *Intent) Int(name string) int {
	v, _ := i.Args[name].(int)
	return v
}

// Bool returns a bool argument.
func (i *Intent) Bool(name string) bool {
	v, _ := i.Args[name].(bool)
	return v
}

// Decimal returns a decimal argument as its canonical string form.
func (i *Intent) Decimal(name string) string {
	v, _ := i.Args[name].(string)
	return v
}

// JSON returns a json argument's raw bytes.
func (i *Intent) JSON(name string) json.RawMessage {
	v, _ := i.Args[name].(json.RawMessage)
	return v
}

// StringMap returns a stringMap argument.
func (i *Intent) StringMap(name string) map[string]string {
	v, _ := i.Args[name].(map[string]string)
	return v
}
