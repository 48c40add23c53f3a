package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPolicy = errors.New("invalid resurrection policy")

// ResurrectionPolicy decides what happens when a sold_removed listing is observed again.
type ResurrectionPolicy string

const (
	// PolicyIgnore leaves the listing retired and skips the observation.
	PolicyIgnore ResurrectionPolicy = "ignore"
	// PolicyReactivate returns the listing to active and keeps its first_seen_date.
	PolicyReactivate ResurrectionPolicy = "reactivate"
	// PolicyRelist returns the listing to active as a fresh market period starting today.
	PolicyRelist ResurrectionPolicy = "relist"
)

// ParsePolicy accepts ignore, reactivate or relist. Empty means ignore.
func ParsePolicy(s string) (ResurrectionPolicy, error) {
	switch p := ResurrectionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyIgnore, nil
	case PolicyIgnore, PolicyReactivate, PolicyRelist:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

func (p ResurrectionPolicy) String() string {
	return string(p)
}
