package metadata

import "strings"

// DictItem is one option of a dictionary, used to render coded columns.
type DictItem struct {
	Code        string `json:"code" yaml:"code"`
	Name        string `json:"name" yaml:"name"`
	Value       string `json:"value" yaml:"value"`
	SortOrder   int    `json:"sortOrder" yaml:"sortOrder"`
	ExtraConfig string `json:"extraConfig,omitempty" yaml:"extraConfig"`
}

// DictSeed is a dictionary type with its items.
type DictSeed struct {
	Code        string     `yaml:"code"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Items       []DictItem `yaml:"items"`
}

// LookupColumn is one column of a lookup dialog.
type LookupColumn struct {
	Field  string `json:"field" yaml:"field"`
	Header string `json:"header" yaml:"header"`
	Width  *int   `json:"width" yaml:"width"`
}

// LookupConfig describes a pick-list dialog backed by a table or view.
type LookupConfig struct {
	Code           string         `json:"lookupCode" yaml:"code"`
	Name           string         `json:"lookupName" yaml:"name"`
	DataSource     string         `json:"dataSource" yaml:"dataSource"`
	DisplayColumns []LookupColumn `json:"displayColumns" yaml:"displayColumns"`
	SearchColumns  []string       `json:"searchColumns" yaml:"searchColumns"`
	ValueField     string         `json:"valueField" yaml:"valueField"`
	LabelField     string         `json:"labelField" yaml:"labelField"`
}

// Page rule types that carry executable actions.
const (
	RuleTypeToolbar     = "TOOLBAR"
	RuleTypeContextMenu = "CONTEXT_MENU"
)

// PageRule is a page component's rule document. Rules holds
// {"items": [...]} where items may nest sub-menus.
type PageRule struct {
	PageCode     string         `json:"pageCode" yaml:"page"`
	ComponentKey string         `json:"componentKey" yaml:"component"`
	RuleType     string         `json:"ruleType" yaml:"type"`
	Rules        string         `json:"rules" yaml:"-"`
	SortOrder    int            `json:"sortOrder" yaml:"sortOrder"`
	Items        []PageRuleItem `json:"-" yaml:"items"`
}

// PageRuleItem is a toolbar button or menu entry.
type PageRuleItem struct {
	Action    string           `json:"action,omitempty" yaml:"action"`
	Label     string           `json:"label,omitempty" yaml:"label"`
	Enabled   *bool            `json:"enabled,omitempty" yaml:"enabled"`
	SQL       string           `json:"sql,omitempty" yaml:"sql"`
	Handler   string           `json:"handler,omitempty" yaml:"handler"`
	Method    string           `json:"method,omitempty" yaml:"method"`
	Procedure string           `json:"procedure,omitempty" yaml:"procedure"`
	Params    []ProcedureParam `json:"params,omitempty" yaml:"params"`
	Items     []PageRuleItem   `json:"items,omitempty" yaml:"items"`
}

type pageRuleDoc struct {
	Items []PageRuleItem `json:"items"`
}

// EncodePageRuleItems renders items as a stored page rule document.
func EncodePageRuleItems(items []PageRuleItem) (string, error) {
	return json.MarshalToString(pageRuleDoc{Items: items})
}

// FindAction returns the action rule for the first item, at any depth,
// whose action is code. ok is false when no item matches or the matching
// item names nothing to run.
func (p PageRule) FindAction(code string) (rule ActionRule, ok bool, err error) {
	var doc pageRuleDoc
	if strings.TrimSpace(p.Rules) == "" {
		return ActionRule{}, false, nil
	}
	if err := json.UnmarshalFromString(p.Rules, &doc); err != nil {
		return ActionRule{}, false, err
	}
	item := findItem(doc.Items, code)
	if item == nil {
		return ActionRule{}, false, nil
	}
	rule, ok = item.actionRule()
	return rule, ok, nil
}

func findItem(items []PageRuleItem, code string) *PageRuleItem {
	for i := range items {
		if items[i].Action == code {
			return &items[i]
		}
		if found := findItem(items[i].Items, code); found != nil {
			return found
		}
	}
	return nil
}

func (it *PageRuleItem) actionRule() (ActionRule, bool) {
	rule := ActionRule{
		Code:      it.Action,
		Name:      it.Label,
		Enabled:   it.Enabled,
		SQL:       it.SQL,
		Handler:   it.Handler,
		Method:    it.Method,
		Procedure: it.Procedure,
		Params:    it.Params,
	}
	switch {
	case it.SQL != "":
		rule.Type = "sql"
	case it.Handler != "":
		rule.Type = "java"
	case it.Procedure != "":
		rule.Type = "proc"
	default:
		return ActionRule{}, false
	}
	return rule, true
}
