package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kitabi/backend/models"
)

// Content types are derived from the declared format, never sniffed from the
// bytes being served.
var contentTypes = map[string]string{
	models.FormatEPUB:      "application/epub+zip",
	models.FormatMOBI:      "application/x-mobipocket-ebook",
	models.FormatPDF:       "application/pdf",
	models.FormatTXT:       "text/plain; charset=utf-8",
	models.FormatAudiobook: "audio/mpeg",
}

func ContentTypeFor(format string) string {
	if ct, ok := contentTypes[format]; ok {
		return ct
	}
	return "application/octet-stream"
}

// copyBufSize bounds the memory held per streaming response.
const copyBufSize = 64 * 1024

// RangePlan is the response descriptor produced by the range state machine:
// which status to send and which byte window of the resource to serve.
type RangePlan struct {
	Status       int   // 200, 206, or 416
	Offset       int64 // first byte to serve
	Length       int64 // number of bytes to serve; 0 for 416
	ContentRange string
}

// PlanRange maps a Range header and the resource size to a response plan.
// It is pure, so the whole state machine is testable without file I/O.
//
// Rules: no header means a full 200; a satisfiable single range means 206
// with the exact slice; a start at or past the size means 416; malformed
// syntax falls back to the full 200, matching what most clients expect.
// Multi-range requests are not supported: only the first range of a
// comma-separated list is honored.
func PlanRange(rangeHeader string, size int64) RangePlan {
	full := RangePlan{Status: http.StatusOK, Offset: 0, Length: size}

	spec, ok := strings.CutPrefix(strings.TrimSpace(rangeHeader), "bytes=")
	if rangeHeader == "" || !ok {
		return full
	}
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	spec = strings.TrimSpace(spec)
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return full
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		// Suffix form "-n": the last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return full
		}
		if n >= size {
			return full
		}
		return RangePlan{
			Status:       http.StatusPartialContent,
			Offset:       size - n,
			Length:       n,
			ContentRange: fmt.Sprintf("bytes %d-%d/%d", size-n, size-1, size),
		}
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return full
	}
	if start >= size {
		return RangePlan{
			Status:       http.StatusRequestedRangeNotSatisfiable,
			ContentRange: fmt.Sprintf("bytes */%d", size),
		}
	}
	end := size - 1
	if endStr != "" {
		e, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return full
		}
		if e < start {
			return full
		}
		if e < end {
			end = e
		}
	}
	return RangePlan{
		Status:       http.StatusPartialContent,
		Offset:       start,
		Length:       end - start + 1,
		ContentRange: fmt.Sprintf("bytes %d-%d/%d", start, end, size),
	}
}

// Stream serves the handle per the range plan for the request. The body is
// copied through a fixed-size buffer, so memory stays bounded no matter how
// large the file is. It reports the bytes actually written, which is what
// usage accounting records even when the client disconnects mid-stream.
//
// The storage handle is opened before any header is written, so an
// unresolvable or unreadable resource surfaces as an error to the caller
// instead of a truncated 200.
func Stream(ctx context.Context, w http.ResponseWriter, r *http.Request, handle *StorageHandle, format string) (int64, error) {
	plan := PlanRange(r.Header.Get("Range"), handle.Size)

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", ContentTypeFor(format))
	if plan.ContentRange != "" {
		w.Header().Set("Content-Range", plan.ContentRange)
	}
	if plan.Status == http.StatusRequestedRangeNotSatisfiable {
		w.WriteHeader(plan.Status)
		return 0, nil
	}

	body, err := handle.Open(ctx, plan.Offset, plan.Length)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	w.Header().Set("Content-Length", strconv.FormatInt(plan.Length, 10))
	w.WriteHeader(plan.Status)
	if r.Method == http.MethodHead {
		return 0, nil
	}

	n, err := io.CopyBuffer(w, io.LimitReader(body, plan.Length), make([]byte, copyBufSize))
	return n, err
}
