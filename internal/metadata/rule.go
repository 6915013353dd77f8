package metadata

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ValidationRule is one entry of a table's validation-rule document: a
// count-producing SQL template and a comparison the count must satisfy.
type ValidationRule struct {
	Order     *int   `json:"order,omitempty" yaml:"order"`
	Code      string `json:"code" yaml:"code"`
	Name      string `json:"name,omitempty" yaml:"name"`
	Group     string `json:"group,omitempty" yaml:"group"`
	SQL       string `json:"sql,omitempty" yaml:"sql"`
	Condition string `json:"condition,omitempty" yaml:"condition"`
	Message   string `json:"message,omitempty" yaml:"message"`
}

// ActionRule is one entry of a table's action-rule document.
type ActionRule struct {
	Order       *int             `json:"order,omitempty" yaml:"order"`
	Code        string           `json:"code" yaml:"code"`
	Name        string           `json:"name,omitempty" yaml:"name"`
	Group       string           `json:"group,omitempty" yaml:"group"`
	Enabled     *bool            `json:"enabled,omitempty" yaml:"enabled"`
	Type        string           `json:"type" yaml:"type"`
	SQL         string           `json:"sql,omitempty" yaml:"sql"`
	Handler     string           `json:"handler,omitempty" yaml:"handler"`
	Method      string           `json:"method,omitempty" yaml:"method"`
	Procedure   string           `json:"procedure,omitempty" yaml:"procedure"`
	Params      []ProcedureParam `json:"params,omitempty" yaml:"params"`
	Description string           `json:"description,omitempty" yaml:"description"`
}

// ProcedureParam binds one stored-procedure argument.
type ProcedureParam struct {
	Name     string `json:"name" yaml:"name"`
	Mode     string `json:"mode,omitempty" yaml:"mode"`
	JdbcType string `json:"jdbcType,omitempty" yaml:"jdbcType"`
	Source   string `json:"source,omitempty" yaml:"source"`
	Target   string `json:"target,omitempty" yaml:"target"`
}

// SortOrder treats a missing order as 0.
func (r ValidationRule) SortOrder() int { return orderOf(r.Order) }

func (r ActionRule) SortOrder() int { return orderOf(r.Order) }

// IsEnabled treats a missing flag as enabled.
func (r ActionRule) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// ActionCode is the name the rule is reported under.
func (r ActionRule) ActionCode() string {
	if r.Code != "" {
		return r.Code
	}
	if r.Name != "" {
		return r.Name
	}
	return "action"
}

func orderOf(o *int) int {
	if o == nil {
		return 0
	}
	return *o
}

// ParseValidationRules decodes a validation-rule document. A blank document
// has no rules.
func ParseValidationRules(doc string) ([]ValidationRule, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, nil
	}
	var rules []ValidationRule
	if err := json.UnmarshalFromString(doc, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// ParseActionRules decodes an action-rule document. A blank document has no
// rules.
func ParseActionRules(doc string) ([]ActionRule, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, nil
	}
	var rules []ActionRule
	if err := json.UnmarshalFromString(doc, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// EncodeRules renders a rule list as the document stored with a table.
func EncodeRules(rules any) (string, error) {
	return json.MarshalToString(rules)
}
