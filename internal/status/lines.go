package status

import (
	"slices"
	"strings"

	"github.com/briangreenhill/acctcache/internal/remote"
	"github.com/briangreenhill/acctcache/plugins"
)

func line(icon, key string, v int64) plugins.DataPoint {
	return plugins.DataPoint{Icon: icon, MessageKey: key, Value: v}
}

// Offline is cached when the remote service could not be reached.
func Offline() plugins.DataPoint {
	return line("status-offline.png", "app.offline", 0)
}

// IOError is cached when the remote service failed in any other way.
func IOError() plugins.DataPoint {
	return line("status-ioerror.png", "app.ioerror", 0)
}

// HealthLines turns remaining-quota counters into status lines.
func HealthLines(in []remote.HealthLine) []plugins.DataPoint {
	out := make([]plugins.DataPoint, 0, len(in))
	for _, h := range in {
		out = append(out, line("status-build.png", "build."+h.Key, h.Remaining))
	}
	return out
}

// SummarizeApps counts the applications of account per lower-cased status,
// ordered by status. Applications of other accounts are ignored.
func SummarizeApps(account string, statuses map[string]string) []plugins.DataPoint {
	prefix := account + "/"
	counts := make(map[string]int64)
	for id, s := range statuses {
		if strings.HasPrefix(id, prefix) {
			counts[strings.ToLower(s)]++
		}
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]plugins.DataPoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, line("status-"+k+".png", "app."+k, counts[k]))
	}
	return out
}
