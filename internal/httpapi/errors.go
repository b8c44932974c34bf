package httpapi

import (
	"errors"
	"net/http"

	"github.com/NumericFactory/ocr-service-paddle/internal/ocr"
)

// kindToStatus is the Error kind -> HTTP status table from spec.md §6.
var kindToStatus = map[ocr.Kind]int{
	ocr.KindOverloaded:    http.StatusServiceUnavailable,
	ocr.KindQueuedTooLong: http.StatusGatewayTimeout,
	ocr.KindOCRTimeout:    http.StatusGatewayTimeout,
	ocr.KindWorkerCrashed: http.StatusInternalServerError,
	ocr.KindPoolNotReady:  http.StatusServiceUnavailable,
	ocr.KindFatalStartup:  http.StatusServiceUnavailable,
	// Not part of spec.md's taxonomy table; the child engine reported a
	// per-job failure rather than the supervisor detecting a fault.
	ocr.KindOCRFailed: http.StatusUnprocessableEntity,
}

// statusForErr maps an error returned by the pipeline/pool to an HTTP
// status and a stable machine-readable code.
func statusForErr(err error) (int, string) {
	var supErr *ocr.Error
	if errors.As(err, &supErr) {
		if status, ok := kindToStatus[supErr.Kind]; ok {
			return status, string(supErr.Kind)
		}
	}
	return http.StatusInternalServerError, "internal-error"
}
