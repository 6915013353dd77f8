package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"

	"metatable/internal/metadata"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DictItems returns the live items of dictType in sort order. An unknown
// type has no items.
func (ss *SchemaStore) DictItems(ctx context.Context, dictType string) ([]metadata.DictItem, error) {
	rows, err := QueryRows(ctx, ss.store.DB,
		`SELECT item_code, item_name, item_value, sort_order, extra_config
		   FROM _dict_items WHERE dict_code = `+ss.store.Dialect.Placeholder(1)+` AND deleted = 0
		  ORDER BY sort_order, id`,
		dictType,
	)
	if err != nil {
		return nil, fmt.Errorf("load dict %s: %w", dictType, err)
	}
	items := make([]metadata.DictItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, metadata.DictItem{
			Code:        cast.ToString(r["item_code"]),
			Name:        cast.ToString(r["item_name"]),
			Value:       cast.ToString(r["item_value"]),
			SortOrder:   cast.ToInt(r["sort_order"]),
			ExtraConfig: cast.ToString(r["extra_config"]),
		})
	}
	return items, nil
}

// LookupConfig returns the lookup named code, or nil when there is none.
// Malformed column documents are read as empty.
func (ss *SchemaStore) LookupConfig(ctx context.Context, code string) (*metadata.LookupConfig, error) {
	row, err := QueryRow(ctx, ss.store.DB,
		`SELECT lookup_code, lookup_name, data_source, display_columns, search_columns, value_field, label_field
		   FROM _lookup_configs WHERE lookup_code = `+ss.store.Dialect.Placeholder(1)+` AND deleted = 0`,
		code,
	)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load lookup %s: %w", code, err)
	}

	lc := &metadata.LookupConfig{
		Code:           cast.ToString(row["lookup_code"]),
		Name:           cast.ToString(row["lookup_name"]),
		DataSource:     cast.ToString(row["data_source"]),
		ValueField:     cast.ToString(row["value_field"]),
		LabelField:     cast.ToString(row["label_field"]),
		DisplayColumns: []metadata.LookupColumn{},
		SearchColumns:  []string{},
	}
	if doc := cast.ToString(row["display_columns"]); strings.TrimSpace(doc) != "" {
		if err := json.UnmarshalFromString(doc, &lc.DisplayColumns); err != nil {
			log.Printf("WARN: lookup %s: ignoring malformed display columns: %v", code, err)
			lc.DisplayColumns = []metadata.LookupColumn{}
		}
	}
	if doc := cast.ToString(row["search_columns"]); strings.TrimSpace(doc) != "" {
		if err := json.UnmarshalFromString(doc, &lc.SearchColumns); err != nil {
			log.Printf("WARN: lookup %s: ignoring malformed search columns: %v", code, err)
			lc.SearchColumns = []string{}
		}
	}
	// A stored "null" decodes to nil.
	if lc.DisplayColumns == nil {
		lc.DisplayColumns = []metadata.LookupColumn{}
	}
	if lc.SearchColumns == nil {
		lc.SearchColumns = []string{}
	}
	return lc, nil
}

// PageRules returns the page's toolbar and context-menu rules in sort
// order, narrowed to componentKey when it is non-blank.
func (ss *SchemaStore) PageRules(ctx context.Context, q Querier, pageCode, componentKey string) ([]metadata.PageRule, error) {
	pb := ss.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(`SELECT page_code, component_key, rule_type, rules, sort_order
		  FROM _page_rules WHERE page_code = %s AND rule_type IN (%s, %s) AND deleted = 0`,
		pb.Add(pageCode), pb.Add(metadata.RuleTypeToolbar), pb.Add(metadata.RuleTypeContextMenu))
	if strings.TrimSpace(componentKey) != "" {
		sql += " AND component_key = " + pb.Add(componentKey)
	}
	sql += " ORDER BY sort_order, id"

	rows, err := QueryRows(ctx, q, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("load page rules of %s: %w", pageCode, err)
	}
	rules := make([]metadata.PageRule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, metadata.PageRule{
			PageCode:     cast.ToString(r["page_code"]),
			ComponentKey: cast.ToString(r["component_key"]),
			RuleType:     cast.ToString(r["rule_type"]),
			Rules:        cast.ToString(r["rules"]),
			SortOrder:    cast.ToInt(r["sort_order"]),
		})
	}
	return rules, nil
}

// SaveDict replaces a dictionary type and its items.
func (ss *SchemaStore) SaveDict(ctx context.Context, q Querier, ds *metadata.DictSeed) error {
	d := ss.store.Dialect
	if _, err := Exec(ctx, q, "DELETE FROM _dict_items WHERE dict_code = "+d.Placeholder(1), ds.Code); err != nil {
		return fmt.Errorf("clear items of %s: %w", ds.Code, err)
	}
	if _, err := Exec(ctx, q, "DELETE FROM _dict_types WHERE dict_code = "+d.Placeholder(1), ds.Code); err != nil {
		return fmt.Errorf("clear dict %s: %w", ds.Code, err)
	}

	pb := d.NewParamBuilder()
	sql := fmt.Sprintf("INSERT INTO _dict_types (dict_code, dict_name, description) VALUES (%s, %s, %s)",
		pb.Add(ds.Code), pb.Add(ds.Name), pb.Add(ds.Description))
	if _, err := Exec(ctx, q, sql, pb.Params()...); err != nil {
		return fmt.Errorf("insert dict %s: %w", ds.Code, MapError(d, err))
	}
	for i, it := range ds.Items {
		order := it.SortOrder
		if order == 0 {
			order = i + 1
		}
		pb := d.NewParamBuilder()
		sql := fmt.Sprintf(`INSERT INTO _dict_items (dict_code, item_code, item_name, item_value, sort_order, extra_config)
			VALUES (%s, %s, %s, %s, %s, %s)`,
			pb.Add(ds.Code), pb.Add(it.Code), pb.Add(it.Name), pb.Add(it.Value), pb.Add(order), pb.Add(it.ExtraConfig))
		if _, err := Exec(ctx, q, sql, pb.Params()...); err != nil {
			return fmt.Errorf("insert dict item %s.%s: %w", ds.Code, it.Code, MapError(d, err))
		}
	}
	return nil
}

// SaveLookup replaces a lookup configuration.
func (ss *SchemaStore) SaveLookup(ctx context.Context, q Querier, lc *metadata.LookupConfig) error {
	d := ss.store.Dialect
	if _, err := Exec(ctx, q, "DELETE FROM _lookup_configs WHERE lookup_code = "+d.Placeholder(1), lc.Code); err != nil {
		return fmt.Errorf("clear lookup %s: %w", lc.Code, err)
	}
	columns, err := json.MarshalToString(lc.DisplayColumns)
	if err != nil {
		return fmt.Errorf("encode lookup %s columns: %w", lc.Code, err)
	}
	search, err := json.MarshalToString(lc.SearchColumns)
	if err != nil {
		return fmt.Errorf("encode lookup %s search columns: %w", lc.Code, err)
	}

	pb := d.NewParamBuilder()
	sql := fmt.Sprintf(`INSERT INTO _lookup_configs
		(lookup_code, lookup_name, data_source, display_columns, search_columns, value_field, label_field)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(lc.Code), pb.Add(lc.Name), pb.Add(lc.DataSource), pb.Add(columns), pb.Add(search),
		pb.Add(lc.ValueField), pb.Add(lc.LabelField))
	if _, err := Exec(ctx, q, sql, pb.Params()...); err != nil {
		return fmt.Errorf("insert lookup %s: %w", lc.Code, MapError(d, err))
	}
	return nil
}

// SavePageRule replaces the rule of one page component and type.
func (ss *SchemaStore) SavePageRule(ctx context.Context, q Querier, pr *metadata.PageRule) error {
	d := ss.store.Dialect
	pb := d.NewParamBuilder()
	del := fmt.Sprintf("DELETE FROM _page_rules WHERE page_code = %s AND component_key = %s AND rule_type = %s",
		pb.Add(pr.PageCode), pb.Add(pr.ComponentKey), pb.Add(pr.RuleType))
	if _, err := Exec(ctx, q, del, pb.Params()...); err != nil {
		return fmt.Errorf("clear page rule %s/%s: %w", pr.PageCode, pr.ComponentKey, err)
	}

	pb = d.NewParamBuilder()
	sql := fmt.Sprintf(`INSERT INTO _page_rules (page_code, component_key, rule_type, rules, sort_order)
		VALUES (%s, %s, %s, %s, %s)`,
		pb.Add(pr.PageCode), pb.Add(pr.ComponentKey), pb.Add(pr.RuleType), pb.Add(pr.Rules), pb.Add(pr.SortOrder))
	if _, err := Exec(ctx, q, sql, pb.Params()...); err != nil {
		return fmt.Errorf("insert page rule %s/%s: %w", pr.PageCode, pr.ComponentKey, MapError(d, err))
	}
	return nil
}
