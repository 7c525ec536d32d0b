package output

import (
	"fmt"
	"io"
	"strings"
)

var annotationEscaper = strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A")

// Annotation renders err as a single GitHub Actions error annotation line
// (without the trailing newline).
func Annotation(err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return "::error::" + annotationEscaper.Replace(msg)
}

func WriteAnnotation(w io.Writer, err error) error {
	_, werr := fmt.Fprintln(w, Annotation(err))
	return werr
}
