package check

import (
	"fmt"
	"strings"
)

// describe renders a value the way it appears in a message shown to the user: strings and
// string-like values as they are, slices as a bracketed list.
func describe(v any) string {
	switch v := v.(type) {
	case nil:
		return "nothing"
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []string:
		return "[" + strings.Join(v, " ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// message is the caller's context for a failed check. A lone value is used verbatim, so user
// data in it is never read as a format string; a format followed by arguments is expanded.
func message(msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	msg, ok := msgAndArgs[0].(string)
	if !ok {
		return describe(msgAndArgs[0])
	}
	if len(msgAndArgs) == 1 {
		return msg
	}
	return fmt.Sprintf(msg, msgAndArgs[1:]...)
}
