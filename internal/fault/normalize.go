package fault

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Normalize maps any foreign error shape into *Error exactly once, at the
// system boundary. Accepted shapes:
//   - *Error (returned as is)
//   - error values (wrapped, kind Unknown)
//   - maps with message/Message and code/Code entries whose values are
//     strings, fmt.Stringers, or func() string
//   - strings
//
// Anything else becomes an unknown error with its JSON rendering as message.
// Normalize(nil) returns nil.
func Normalize(v any) *Error {
	switch val := v.(type) {
	case nil:
		return nil
	case *Error:
		return val
	case error:
		var fe *Error
		if errors.As(val, &fe) {
			return fe
		}
		return &Error{Kind: KindUnknown, Code: CodeUnknown, Message: val.Error(), Err: val}
	case string:
		return &Error{Kind: KindUnknown, Code: CodeUnknown, Message: val}
	case map[string]any:
		return fromFields(val)
	default:
		rendered, err := json.Marshal(v)
		if err != nil {
			rendered = []byte(fmt.Sprintf("%v", v))
		}
		return &Error{
			Kind:    KindUnknown,
			Code:    CodeUnknown,
			Message: "unrecognized error: " + string(rendered),
		}
	}
}

func fromFields(m map[string]any) *Error {
	e := &Error{Kind: KindUnknown, Code: CodeUnknown, Message: "no relevant message"}
	if msg, ok := firstText(m, "message", "Message"); ok {
		e.Message = msg
	}
	if code, ok := firstText(m, "code", "Code"); ok {
		e.Code = code
		e.Kind = kindForCode(code)
	}
	return e
}

// firstText returns the first key whose value renders as non-empty text.
func firstText(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case func() string:
			if s := v(); s != "" {
				return s, true
			}
		case fmt.Stringer:
			if s := v.String(); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func kindForCode(code string) Kind {
	switch strings.ToUpper(code) {
	case CodeValidation:
		return KindValidation
	case CodeNotFound:
		return KindNotFound
	case CodeOperation:
		return KindOperation
	}
	return KindUnknown
}
