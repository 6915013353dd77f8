package metadata

import "strings"

// UserContext is the resolved identity the boundary hands to the core.
type UserContext struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// HasRole checks whether the user holds role, ignoring case.
func (u *UserContext) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Actor is the name stamped into createBy/updateBy, fallback when anonymous.
func (u *UserContext) Actor(fallback string) string {
	if u == nil || u.Username == "" {
		return fallback
	}
	return u.Username
}

// DataRule is a row-level restriction granted with a role page.
// ValueType is "literal" or "placeholder" (${userId}, ${username}).
type DataRule struct {
	FieldName string `json:"fieldName" yaml:"field"`
	Operator  string `json:"operator" yaml:"operator"`
	Value     string `json:"value" yaml:"value"`
	ValueType string `json:"valueType" yaml:"valueType"`
}
