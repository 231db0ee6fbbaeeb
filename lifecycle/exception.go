package lifecycle

import (
	"fmt"
	"runtime"
	"strings"
)

const maxSummaryFrames = 3

// SummarizeError formats a bounded-length summary of an error for storage as
// a response payload: the error text plus up to three frames of the caller's
// stack.
func SummarizeError(cause error) map[string]any {
	if cause == nil {
		return nil
	}

	summary := map[string]any{
		"error": cause.Error(),
		"type":  fmt.Sprintf("%T", cause),
	}

	pcs := make([]uintptr, maxSummaryFrames+2)
	// Skip runtime.Callers, SummarizeError and RecordExceptionResponse.
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return summary
	}

	frames := runtime.CallersFrames(pcs[:n])
	trace := make([]string, 0, maxSummaryFrames)
	for range maxSummaryFrames {
		frame, more := frames.Next()
		if frame.Function == "" {
			break
		}
		fn := frame.Function
		if idx := strings.LastIndexByte(fn, '/'); idx >= 0 {
			fn = fn[idx+1:]
		}
		trace = append(trace, fmt.Sprintf("%s (%s:%d)", fn, frame.File, frame.Line))
		if !more {
			break
		}
	}
	if len(trace) > 0 {
		summary["trace"] = trace
	}
	return summary
}
