// Package plugins defines the extension point for contributors of extra
// status data points.
package plugins

import (
	"context"

	"github.com/briangreenhill/acctcache/internal/users"
)

// DataPoint is one line of an account's status.
type DataPoint struct {
	// Icon is a file name such as "status-build.png".
	Icon       string `json:"icon"`
	MessageKey string `json:"messageKey"`
	Value      int64  `json:"value"`
	// StyleClass highlights the whole line, e.g. for errors.
	StyleClass string `json:"styleClass,omitempty"`
}

// Collector contributes data points to an account's status.
type Collector interface {
	// Name returns the name of the collector (e.g., "quota", "builds")
	Name() string

	// Collect runs in the background after the account status was fetched.
	// It may do slow I/O but must honor ctx.
	Collect(ctx context.Context, u users.User, account string) ([]DataPoint, error)

	// CollectSync runs on every status read and must not block.
	CollectSync(u users.User, account string) []DataPoint
}

// ValueKey returns the message key used to render Value: ".zero" when it is
// zero, ".used" when negative and ".avail" otherwise.
func (d DataPoint) ValueKey() string {
	switch {
	case d.Value == 0:
		return d.MessageKey + ".zero"
	case d.Value < 0:
		return d.MessageKey + ".used"
	}
	return d.MessageKey + ".avail"
}
