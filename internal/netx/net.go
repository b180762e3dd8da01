// Package netx holds HTTP plumbing shared by the REST storage backends.
package netx

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// maxErrorBody bounds how much of an error response body is kept for the
// task's error message.
const maxErrorBody = 512

// CheckStatus returns nil when resp carries one of the accepted status
// codes, otherwise an error including the status line and a body snippet.
func CheckStatus(resp *http.Response, accepted ...int) error {
	for _, code := range accepted {
		if resp.StatusCode == code {
			return nil
		}
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("unexpected status %s; body: %s", resp.Status, string(b))
}

// DrainClose discards the remainder of the body and closes it, keeping the
// underlying connection reusable.
func DrainClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

// ContentRange formats a Content-Range header value for the inclusive byte
// span [start, end] of a payload of total bytes.
func ContentRange(start, end, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}

// ContentRangeProbe formats the Content-Range value used to query the
// current offset of a resumable session without sending payload bytes.
func ContentRangeProbe(total int64) string {
	return fmt.Sprintf("bytes */%d", total)
}

// ParseRangeEnd extracts the last acknowledged byte index from a response
// Range header of the form "bytes=0-N". It returns -1 when the header is
// absent or malformed, meaning no bytes have been received yet.
func ParseRangeEnd(h string) int64 {
	if h == "" {
		return -1
	}
	v := strings.TrimPrefix(h, "bytes=")
	idx := strings.LastIndex(v, "-")
	if idx < 0 || idx+1 >= len(v) {
		return -1
	}
	end, err := strconv.ParseInt(v[idx+1:], 10, 64)
	if err != nil {
		return -1
	}
	return end
}
