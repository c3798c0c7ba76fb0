package cache

import (
	"net/http"
	"strings"
)

// Key normalizes a GET request into its cache key. Query parameters are
// sorted so equivalent URLs share an entry.
func Key(r *http.Request) string {
	var b strings.Builder
	b.WriteString(http.MethodGet)
	b.WriteByte(' ')
	b.WriteString(strings.ToLower(r.Host))
	b.WriteString(r.URL.EscapedPath())
	b.WriteByte('?')
	b.WriteString(r.URL.Query().Encode())
	return b.String()
}
