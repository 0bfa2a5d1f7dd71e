package orchestrator

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
)

// ConfigHash fingerprints the indexed details. The order of the list does not
// matter; adding, removing or retyping a detail changes the hash.
func ConfigHash(details []config.IndexedDetail) string {
	pairs := make([]string, 0, len(details))
	for _, d := range details {
		pairs = append(pairs, d.Key+"\x00"+strings.ToUpper(d.Type))
	}
	sort.Strings(pairs)

	h := xxhash.New()
	for _, p := range pairs {
		_, _ = h.WriteString(p)
		_, _ = h.WriteString("\n")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
