package tools

import "fmt"

// UnknownToolError is returned when a tool invocation names a tool that
// is not present in the merged registry. This indicates a model
// hallucination or a provider mismatch, not a transient execution
// failure; it is fed back to the model as an is_error result like any
// other tool failure.
type UnknownToolError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %q", e.Name)
}
