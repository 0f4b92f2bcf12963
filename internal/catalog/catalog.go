// internal/catalog/catalog.go
package catalog

import (
	"regexp"
	"strings"
)

// PathSuffix marks catalog keys whose value is a file path rather than a
// scalar string (resume_path, cover_letter_path). Labels that match a base
// key with no scalar value fall back to the `_path` variant.
const PathSuffix = "_path"

// Facts is the catalog of canonical semantic facts supplied by the
// extraction collaborator: canonical key -> string value.
type Facts map[string]string

// Get returns the value for key, or "" when absent.
func (f Facts) Get(key string) string { return f[key] }

// PathFallback returns the `_path` variant of key when the key itself holds
// no scalar value, implementing the file-field fallback rule.
func (f Facts) PathFallback(key string) (string, string, bool) {
	pathKey := key + PathSuffix
	if v := f[pathKey]; v != "" {
		return pathKey, v, true
	}
	return "", "", false
}

var postcodeCityRe = regexp.MustCompile(`^(\d{4,5})\s+(.+)$`)

// Prepare expands a raw fact catalog for maximum field coverage: a combined
// `name` is split into first/last, and a free-form `address_raw` is parsed
// into structured address components. Existing explicit keys always win.
func Prepare(raw Facts) Facts {
	prepared := make(Facts, len(raw)+6)
	for k, v := range raw {
		prepared[k] = v
	}

	if name := raw["name"]; name != "" && raw["first_name"] == "" {
		parts := strings.Fields(name)
		switch {
		case len(parts) >= 2:
			prepared["first_name"] = parts[0]
			prepared["last_name"] = strings.Join(parts[1:], " ")
		case len(parts) == 1:
			prepared["first_name"] = parts[0]
		}
	}

	if addr := raw["address_raw"]; addr != "" && raw["address_line1"] == "" {
		for k, v := range parseAddress(addr) {
			if prepared[k] == "" {
				prepared[k] = v
			}
		}
	}

	return prepared
}

// parseAddress splits a single-line address like
// "9020 Klagenfurt am Wörthersee, Austria" into structured components.
func parseAddress(addr string) Facts {
	components := Facts{}
	parts := strings.Split(addr, ",")

	if len(parts) >= 2 {
		components["country"] = strings.TrimSpace(parts[len(parts)-1])
	}

	first := strings.TrimSpace(parts[0])
	if first == "" {
		return components
	}
	components["address_line1"] = first

	if m := postcodeCityRe.FindStringSubmatch(first); m != nil {
		components["postcode"] = m[1]
		components["city"] = m[2]
	} else if len(parts) == 1 {
		components["city"] = first
	}

	return components
}
