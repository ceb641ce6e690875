package sync

import (
	"context"
	"errors"
	"net"

	"github.com/nbtools/wugsync/internal/netbox"
	"github.com/nbtools/wugsync/internal/wug"
)

// Kind classifies a reconciliation failure and decides how the engine
// reacts to it.
type Kind int

const (
	// KindTransient failures are retried on the next scheduled pass.
	KindTransient Kind = iota
	// KindConflict is a name collision requiring operator resolution.
	KindConflict
	// KindNotExportable devices are silently skipped, not errors.
	KindNotExportable
	// KindNeedsDiscovery signals fallback to a discovery scan.
	KindNeedsDiscovery
	// KindFatal aborts the owning Connection's pass only.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindNotExportable:
		return "not_exportable"
	case KindNeedsDiscovery:
		return "needs_discovery"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Sentinels shared between the engine and the mapper.
var (
	ErrNotExportable = errors.New("device not exportable")
	ErrConflict      = errors.New("name collision")
)

// Classify maps an error to its Kind. Adapter errors carry enough type
// information that nothing needs string matching here.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, wug.ErrNeedsDiscovery):
		return KindNeedsDiscovery
	case errors.Is(err, ErrNotExportable):
		return KindNotExportable
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	}

	var wugErr *wug.APIError
	if errors.As(err, &wugErr) {
		if wugErr.Transient() {
			return KindTransient
		}
		return KindFatal
	}

	var nbErr *netbox.APIError
	if errors.As(err, &nbErr) {
		if nbErr.StatusCode >= 500 {
			return KindTransient
		}
		return KindFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindTransient
}
