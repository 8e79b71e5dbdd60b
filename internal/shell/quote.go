// Package shell builds shell text safely and runs it with streamed output.
//
// Every value interpolated into generated shell text goes through Quote,
// usually via Format; no other code in the module concatenates untrusted
// strings into a command line.
package shell

import (
	"fmt"
	"strings"
)

// Quote wraps s in single quotes so a POSIX shell parses it back as one
// literal word. Embedded single quotes become '\''.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Format renders format with every argument quoted. Only %s verbs are
// meaningful in format; numbers must be converted to strings by the caller.
func Format(format string, args ...string) string {
	quoted := make([]any, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return fmt.Sprintf(format, quoted...)
}

// Join quotes each word and joins them with spaces.
func Join(words ...string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = Quote(w)
	}
	return strings.Join(quoted, " ")
}

// Export renders `export NAME='value'; ` for an environment assignment.
// NAME must be a valid identifier; it is not quoted.
func Export(name, value string) string {
	return "export " + name + "=" + Quote(value) + "; "
}
