package permission

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"metatable/internal/metadata"
	"metatable/internal/store"
)

// Service loads role grants from the schema store and merges them.
type Service struct {
	dialect store.Dialect
	merger  *Merger
}

func NewService(dialect store.Dialect, merger *Merger) *Service {
	return &Service{dialect: dialect, merger: merger}
}

// Build computes the permission context of user. The roles considered are the
// ones the user arrived with plus the ones assigned in the schema store.
func (s *Service) Build(ctx context.Context, q store.Querier, user *metadata.UserContext) (*UserPermissionContext, error) {
	if user == nil {
		return s.merger.Merge(0, nil, nil), nil
	}

	roles, err := s.storedRoles(ctx, q, user.ID)
	if err != nil {
		return nil, err
	}
	roles = unionRoles(user.Roles, roles)

	assignments, err := s.assignments(ctx, q, roles)
	if err != nil {
		return nil, err
	}
	return s.merger.Merge(user.ID, roles, assignments), nil
}

func (s *Service) storedRoles(ctx context.Context, q store.Querier, userID int64) ([]string, error) {
	rows, err := store.QueryRows(ctx, q,
		`SELECT r.role_code FROM _user_roles ur JOIN _roles r ON r.id = ur.role_id
		  WHERE ur.user_id = `+s.dialect.Placeholder(1), userID)
	if err != nil {
		return nil, fmt.Errorf("load roles of user %d: %w", userID, err)
	}
	roles := make([]string, 0, len(rows))
	for _, r := range rows {
		roles = append(roles, cast.ToString(r["role_code"]))
	}
	return roles, nil
}

func (s *Service) assignments(ctx context.Context, q store.Querier, roles []string) ([]Assignment, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	pb := s.dialect.NewParamBuilder()
	marks := make([]string, len(roles))
	for i, r := range roles {
		marks[i] = pb.Add(strings.ToUpper(r))
	}
	in := strings.Join(marks, ", ")

	rows, err := store.QueryRows(ctx, q,
		`SELECT rp.id, r.role_code, rp.page_code, rp.button_policy, rp.column_policy
		   FROM _role_pages rp JOIN _roles r ON r.id = rp.role_id
		  WHERE upper(r.role_code) IN (`+in+`)
		  ORDER BY rp.id`, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("load role pages: %w", err)
	}

	pb = s.dialect.NewParamBuilder()
	for i, r := range roles {
		marks[i] = pb.Add(strings.ToUpper(r))
	}
	ruleRows, err := store.QueryRows(ctx, q,
		`SELECT d.role_page_id, d.field_name, d.operator, d.value, d.value_type
		   FROM _role_page_data_rules d
		   JOIN _role_pages rp ON rp.id = d.role_page_id
		   JOIN _roles r ON r.id = rp.role_id
		  WHERE upper(r.role_code) IN (`+strings.Join(marks, ", ")+`)
		  ORDER BY d.id`, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("load data rules: %w", err)
	}
	rules := make(map[int64][]metadata.DataRule)
	for _, r := range ruleRows {
		id := cast.ToInt64(r["role_page_id"])
		rules[id] = append(rules[id], metadata.DataRule{
			FieldName: cast.ToString(r["field_name"]),
			Operator:  cast.ToString(r["operator"]),
			Value:     cast.ToString(r["value"]),
			ValueType: cast.ToString(r["value_type"]),
		})
	}

	out := make([]Assignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, Assignment{
			RoleCode:     cast.ToString(r["role_code"]),
			PageCode:     cast.ToString(r["page_code"]),
			ButtonPolicy: cast.ToString(r["button_policy"]),
			ColumnPolicy: cast.ToString(r["column_policy"]),
			DataRules:    rules[cast.ToInt64(r["id"])],
		})
	}
	return out, nil
}

func unionRoles(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, r := range append(append([]string{}, a...), b...) {
		key := strings.ToUpper(strings.TrimSpace(r))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// ResolveDataRules replaces the ${userId} and ${username} placeholders of
// placeholder-typed rules with the user's values. Literal rules pass through.
func ResolveDataRules(rules []metadata.DataRule, user *metadata.UserContext) []metadata.DataRule {
	if len(rules) == 0 {
		return rules
	}
	var id, name string
	if user != nil {
		id = strconv.FormatInt(user.ID, 10)
		name = user.Username
	}
	r := strings.NewReplacer("${userId}", id, "${username}", name)

	out := make([]metadata.DataRule, len(rules))
	for i, rule := range rules {
		if rule.ValueType == "placeholder" {
			rule.Value = r.Replace(rule.Value)
		}
		out[i] = rule
	}
	return out
}
