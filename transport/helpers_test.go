package transport

import (
	"io"
	"strings"
	"testing"
)

func readUntilEOF(t *testing.T, r io.Reader) string {
	t.Helper()

	var sb strings.Builder
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			return sb.String()
		}
	}
}
