package obs

import "strings"

// collections whose next path segment is a resource identifier.
var idCollections = map[string]bool{
	"accounts": true,
	"actions":  true,
	"items":    true,
}

// CanonicalPath maps a request path onto a bounded set of metric labels.
// /v1/accounts/01J9.../entries becomes /v1/accounts/:id/entries.
func CanonicalPath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	if strings.HasPrefix(path, "/evidence/") {
		return "/evidence/*"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if idCollections[parts[i-1]] && !isVerb(parts[i]) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isVerb(seg string) bool {
	switch seg {
	case "pending", "export":
		return true
	}
	return false
}
