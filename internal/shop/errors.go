package shop

import (
	"fmt"
	"strings"
)

// ValidationError is a local form check failure. It never reaches the network.
type ValidationError struct {
	Fields  []string `json:"fields,omitempty"`
	Message string   `json:"message"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
}

// RequireFields reports the names, in order, whose values are blank.
func RequireFields(fields map[string]string, order ...string) error {
	var missing []string
	for _, name := range order {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing, Message: "required fields are empty"}
	}
	return nil
}
