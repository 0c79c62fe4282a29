package ioutil

import (
	"fmt"
	"io"
)

// ReadLimited reads at most limit bytes from r. A read failure is reported
// inline so provider error bodies can always be attached to logs.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}
