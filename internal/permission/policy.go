package permission

import (
	"log"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AllButtons is the button code that grants every button on a page.
const AllButtons = "*"

// ButtonPolicy is the parsed button document of one role page.
type ButtonPolicy []string

// ColumnPolicy is the parsed column document of one role page.
type ColumnPolicy map[string]ColumnPermission

type ColumnPermission struct {
	Visible  bool `json:"visible"`
	Editable bool `json:"editable"`
}

type columnEntry struct {
	Visible  *bool `json:"visible"`
	Editable *bool `json:"editable"`
}

// ParseButtonPolicy accepts a JSON array of codes, a bare "*" or a JSON "*".
func ParseButtonPolicy(doc string) (ButtonPolicy, error) {
	doc = strings.TrimSpace(doc)
	switch doc {
	case "":
		return nil, nil
	case AllButtons, `"*"`:
		return ButtonPolicy{AllButtons}, nil
	}
	var codes []string
	if err := json.UnmarshalFromString(doc, &codes); err != nil {
		return nil, err
	}
	var out ButtonPolicy
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// ParseColumnPolicy accepts a JSON object of field -> {visible, editable}.
// A flag missing from an entry counts as granted.
func ParseColumnPolicy(doc string) (ColumnPolicy, error) {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return nil, nil
	}
	var raw map[string]columnEntry
	if err := json.UnmarshalFromString(doc, &raw); err != nil {
		return nil, err
	}
	out := make(ColumnPolicy, len(raw))
	for field, e := range raw {
		out[field] = ColumnPermission{
			Visible:  e.Visible == nil || *e.Visible,
			Editable: e.Editable == nil || *e.Editable,
		}
	}
	return out, nil
}

// buttonsOrEmpty is the fallback path for a corrupt button document: the
// assignment contributes no buttons.
func buttonsOrEmpty(a Assignment) ButtonPolicy {
	p, err := ParseButtonPolicy(a.ButtonPolicy)
	if err != nil {
		log.Printf("WARN: role %s page %s: ignoring malformed button policy: %v", a.RoleCode, a.PageCode, err)
		return nil
	}
	return p
}

// columnsOrEmpty is the fallback path for a corrupt column document: the
// assignment places no column restrictions.
func columnsOrEmpty(a Assignment) ColumnPolicy {
	p, err := ParseColumnPolicy(a.ColumnPolicy)
	if err != nil {
		log.Printf("WARN: role %s page %s: ignoring malformed column policy: %v", a.RoleCode, a.PageCode, err)
		return nil
	}
	return p
}
