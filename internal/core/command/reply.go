// Package command holds the request/reply documents exchanged with service
// providers and the deferred result that carries a reply back to the issuer.
package command

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Payload is the structured key/value request document of a command.
type Payload map[string]any

// Reply is the structured document a command resolves to.
// It always contains "ok"; failures add "error".
type Reply map[string]any

// Reply reasons shared by providers.
const (
	ReasonUnknownCommand = "UnknownCommand"
	ReasonInvalidPayload = "InvalidPayload"
	ReasonNotOpen        = "NotOpen"
	ReasonCancelled      = "Cancelled"
	ReasonKeypadFailure  = "KeypadFailure"
)

// OK builds a successful reply carrying the given fields.
func OK(fields map[string]any) Reply {
	r := Reply{"ok": true}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// Fail builds a failed reply with a reason and optional extra fields.
func Fail(reason string, fields map[string]any) Reply {
	r := Reply{"ok": false, "error": reason}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// OK reports whether the command succeeded.
func (r Reply) OK() bool {
	ok, _ := r["ok"].(bool)
	return ok
}

// Error returns the failure reason, or "" for a successful reply.
func (r Reply) Error() string {
	reason, _ := r["error"].(string)
	return reason
}

// String returns the named field as a string, or "" if absent.
func (r Reply) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Decode copies payload fields into out (a pointer to a struct tagged with
// `mapstructure`). Weak typing lets "4", 4 and 4.0 all land in an int field.
func Decode(payload Payload, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("could not build payload decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(payload)); err != nil {
		return fmt.Errorf("could not decode payload: %w", err)
	}
	return nil
}
