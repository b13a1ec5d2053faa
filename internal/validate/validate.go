// Package validate centralizes struct-tag validation for service-layer
// input types, shared by taskgraph, heartbeat, anchor, learning, and edge
// so each package doesn't carry its own validator.New() instance.
package validate

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/txcore/tx/internal/txerr"
)

var v = validator.New()

// Struct runs tag-based validation on in and, on failure, collapses the
// result into a single txerr.Validation naming every offending field.
func Struct(in any) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return txerr.Validation(err.Error(), nil)
	}

	fields := make(map[string]any, len(verrs))
	var msgs []string
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
	}
	return txerr.Validation(strings.Join(msgs, "; "), fields)
}
