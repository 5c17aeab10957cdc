//go:build !linux

package perfevent

import "github.com/elus10n/profiler/internal/metrics"

func open(pid int, kind metrics.MetricKind) (*Counter, error) {
	return nil, ErrUnsupported
}

func (c *Counter) read() (uint64, error) {
	return 0, ErrUnsupported
}

func (c *Counter) close() error {
	return nil
}
