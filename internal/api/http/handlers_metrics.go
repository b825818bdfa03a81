package http

import (
	"time"

	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
)

// HandlerMetrics wraps handlers with metrics tracking
type HandlerMetrics struct {
	metrics *monitoring.Metrics
}

// NewHandlerMetrics creates a metrics wrapper
func NewHandlerMetrics(metrics *monitoring.Metrics) *HandlerMetrics {
	return &HandlerMetrics{metrics: metrics}
}

// Track starts timing an API operation. Call the returned function with the
// error the operation ended with.
func (hm *HandlerMetrics) Track(operation string) func(err error) {
	start := time.Now()
	return func(err error) {
		status := "success"
		if err != nil {
			_, kind := ErrorStatus(err)
			status = "error"
			hm.metrics.RecordServiceError("api", operation, kind)
		}
		hm.metrics.RecordServiceCall("api", operation, status, time.Since(start))
	}
}
