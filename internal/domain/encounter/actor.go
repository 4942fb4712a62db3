package encounter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sunflower/clinic/internal/platform/apperr"
)

// ResolveActor picks the workflow role the caller acts under. When prefer is
// given the first granted role found in it wins, so a user holding both
// nurse and doctor acts as doctor on a doctor action. "admin" may act as the
// first preferred role as an override.
func ResolveActor(userID string, granted []string, prefer ...Role) (Actor, error) {
	if strings.TrimSpace(userID) == "" {
		return Actor{}, apperr.Forbidden("caller identity is required")
	}

	roles := make([]Role, 0, len(granted))
	admin := false
	for _, g := range granted {
		if g == "admin" {
			admin = true
			continue
		}
		if r := ParseRole(g); r != "" {
			roles = append(roles, r)
		}
	}

	if len(prefer) == 0 {
		if len(roles) > 0 {
			return Actor{ID: userID, Role: roles[0]}, nil
		}
		return Actor{}, apperr.Forbidden("caller has no workflow role")
	}
	for _, p := range prefer {
		for _, r := range roles {
			if r == p {
				return Actor{ID: userID, Role: r}, nil
			}
		}
	}
	if admin {
		return Actor{ID: userID, Role: prefer[0], Override: true}, nil
	}
	if len(roles) > 0 {
		// The caller is known but not allowed; the engine reports Forbidden
		// with the precise reason.
		return Actor{ID: userID, Role: roles[0]}, nil
	}
	return Actor{}, apperr.Forbidden("caller has no workflow role")
}

// Conditional request headers. echo does not define these.
const (
	HeaderETag        = "ETag"
	HeaderIfMatch     = "If-Match"
	HeaderIfNoneMatch = "If-None-Match"
)

// ETag renders a version as a weak entity tag.
func ETag(version int) string {
	return fmt.Sprintf(`W/"%d"`, version)
}

// ParseETag reads a version from an If-Match style value. Both weak and
// strong tags are accepted.
func ParseETag(v string) (int, bool) {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
