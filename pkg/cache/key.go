package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies one potentially cacheable request within a run: the
// endpoint family, the endpoint, the subject it is scoped to (zero for
// none), and the filter or cursor parameters.
type Key struct {
	// Family is the endpoint family the fetch targets. The same path can
	// exist in both families and must never share an entry across them.
	Family string

	// Endpoint is the API endpoint path (e.g., "/questions").
	Endpoint string

	// SubjectID scopes per-subject fetches (0 for unscoped endpoints).
	SubjectID int64

	// Params are the pagination and filter parameters.
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: fetch:family:endpoint:subject=123:param1=val1:param2=val2
func (k Key) String() string {
	parts := []string{"fetch"}

	if k.Family != "" {
		parts = append(parts, k.Family)
	}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if k.SubjectID != 0 {
		parts = append(parts, fmt.Sprintf("subject=%d", k.SubjectID))
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params.Get(name)))
		}
	}

	return strings.Join(parts, ":")
}
