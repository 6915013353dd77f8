package permission

import (
	"sort"
	"strings"

	"metatable/internal/metadata"
)

// Assignment is one role's grant on one page, policies still in stored form.
type Assignment struct {
	RoleCode     string
	PageCode     string
	ButtonPolicy string
	ColumnPolicy string
	DataRules    []metadata.DataRule
}

// PagePermission is the effective access of one user to one page.
type PagePermission struct {
	PageCode  string                      `json:"pageCode"`
	Buttons   []string                    `json:"buttons"`
	Columns   map[string]ColumnPermission `json:"columns"`
	DataRules []metadata.DataRule         `json:"dataRules"`
}

// Column returns the merged access for field. Fields no role mentions are
// visible and editable.
func (p *PagePermission) Column(field string) ColumnPermission {
	if p != nil {
		if cp, ok := p.Columns[field]; ok {
			return cp
		}
	}
	return ColumnPermission{Visible: true, Editable: true}
}

// UserPermissionContext holds every page permission of one user.
type UserPermissionContext struct {
	UserID     int64                      `json:"userId"`
	SuperAdmin bool                       `json:"superAdmin"`
	Pages      map[string]*PagePermission `json:"pages"`
}

// Page returns the permission for code. A super admin gets every button and
// no restrictions; a page no role grants yields no buttons.
func (u *UserPermissionContext) Page(code string) *PagePermission {
	if u.SuperAdmin {
		return &PagePermission{PageCode: code, Buttons: []string{AllButtons}}
	}
	if p, ok := u.Pages[code]; ok {
		return p
	}
	return &PagePermission{PageCode: code}
}

// Merger unions role grants into per-page permissions.
type Merger struct {
	SuperAdminRole string
}

func NewMerger(superAdminRole string) *Merger {
	return &Merger{SuperAdminRole: superAdminRole}
}

// Merge folds every assignment of a role in roles into one PagePermission per
// page: buttons and data rules are unioned, column flags are OR-ed. The result
// does not depend on the order of roles or assignments, and repeating a role
// changes nothing.
func (m *Merger) Merge(userID int64, roles []string, assignments []Assignment) *UserPermissionContext {
	ctx := &UserPermissionContext{UserID: userID, Pages: make(map[string]*PagePermission)}

	held := make(map[string]bool, len(roles))
	for _, r := range roles {
		if m.SuperAdminRole != "" && strings.EqualFold(r, m.SuperAdminRole) {
			ctx.SuperAdmin = true
			ctx.Pages = nil
			return ctx
		}
		held[strings.ToUpper(r)] = true
	}

	type acc struct {
		buttons map[string]bool
		columns map[string]ColumnPermission
		rules   map[metadata.DataRule]bool
	}
	pages := make(map[string]*acc)

	for _, a := range assignments {
		if !held[strings.ToUpper(a.RoleCode)] {
			continue
		}
		pa := pages[a.PageCode]
		if pa == nil {
			pa = &acc{
				buttons: make(map[string]bool),
				columns: make(map[string]ColumnPermission),
				rules:   make(map[metadata.DataRule]bool),
			}
			pages[a.PageCode] = pa
		}
		for _, b := range buttonsOrEmpty(a) {
			pa.buttons[b] = true
		}
		for field, cp := range columnsOrEmpty(a) {
			cur := pa.columns[field]
			pa.columns[field] = ColumnPermission{
				Visible:  cur.Visible || cp.Visible,
				Editable: cur.Editable || cp.Editable,
			}
		}
		for _, r := range a.DataRules {
			if r.ValueType == "" {
				r.ValueType = "literal"
			}
			pa.rules[r] = true
		}
	}

	for code, pa := range pages {
		p := &PagePermission{PageCode: code, Columns: pa.columns}
		for b := range pa.buttons {
			p.Buttons = append(p.Buttons, b)
		}
		sort.Strings(p.Buttons)
		for r := range pa.rules {
			p.DataRules = append(p.DataRules, r)
		}
		sort.Slice(p.DataRules, func(i, j int) bool { return ruleKey(p.DataRules[i]) < ruleKey(p.DataRules[j]) })
		ctx.Pages[code] = p
	}
	return ctx
}

func ruleKey(r metadata.DataRule) string {
	return r.FieldName + "\x00" + r.Operator + "\x00" + r.Value + "\x00" + r.ValueType
}

// Apply narrows columns to what perm allows. Hidden columns are dropped; the
// rest are editable only when both the column and the permission allow it.
// The input descriptors are not modified.
func Apply(columns []*metadata.ColumnDescriptor, perm *PagePermission) []*metadata.ColumnDescriptor {
	if perm == nil {
		return columns
	}
	out := make([]*metadata.ColumnDescriptor, 0, len(columns))
	for _, c := range columns {
		cp := perm.Column(c.FieldName)
		if !cp.Visible {
			continue
		}
		cc := *c
		cc.Editable = c.Editable && cp.Editable
		out = append(out, &cc)
	}
	return out
}
