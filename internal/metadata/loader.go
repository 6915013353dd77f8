package metadata

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML document the seed command imports into the schema store.
type Seed struct {
	Tables    []*TableSeed    `yaml:"tables"`
	Roles     []*RoleSeed     `yaml:"roles"`
	Dicts     []*DictSeed     `yaml:"dicts"`
	Lookups   []*LookupConfig `yaml:"lookups"`
	PageRules []*PageRule     `yaml:"pageRules"`
}

type TableSeed struct {
	TableDescriptor `yaml:",inline"`
	Validation      []ValidationRule `yaml:"validationRules"`
	Actions         []ActionRule     `yaml:"actionRules"`
}

type RoleSeed struct {
	Code  string      `yaml:"code"`
	Name  string      `yaml:"name"`
	Users []int64     `yaml:"users"`
	Pages []*PageSeed `yaml:"pages"`
}

// PageSeed grants a role access to one page. Buttons and Columns are stored
// as the JSON policy documents the permission merger reads.
type PageSeed struct {
	Page      string                  `yaml:"page"`
	Buttons   []string                `yaml:"buttons"`
	Columns   map[string]ColumnAccess `yaml:"columns"`
	DataRules []DataRule              `yaml:"dataRules"`
}

// ColumnAccess is one entry of a column policy. Missing flags mean true.
type ColumnAccess struct {
	Visible  *bool `json:"visible,omitempty" yaml:"visible"`
	Editable *bool `json:"editable,omitempty" yaml:"editable"`
}

// LoadSeedFile reads and parses a seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a seed document and renders each table's rule lists into
// the stored document form.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	for i, ts := range seed.Tables {
		if ts.Code == "" {
			return nil, fmt.Errorf("seed table #%d: code is required", i+1)
		}
		if ts.TargetTable == "" && ts.QueryView == "" {
			return nil, fmt.Errorf("seed table %s: targetTable or queryView is required", ts.Code)
		}
		for j, c := range ts.Columns {
			if c.FieldName == "" {
				return nil, fmt.Errorf("seed table %s column #%d: field is required", ts.Code, j+1)
			}
		}
		if len(ts.Validation) > 0 {
			doc, err := EncodeRules(ts.Validation)
			if err != nil {
				return nil, fmt.Errorf("seed table %s: encode validation rules: %w", ts.Code, err)
			}
			ts.ValidationRules = doc
		}
		if len(ts.Actions) > 0 {
			doc, err := EncodeRules(ts.Actions)
			if err != nil {
				return nil, fmt.Errorf("seed table %s: encode action rules: %w", ts.Code, err)
			}
			ts.ActionRules = doc
		}
	}

	for i, rs := range seed.Roles {
		if rs.Code == "" {
			return nil, fmt.Errorf("seed role #%d: code is required", i+1)
		}
	}
	for i, ds := range seed.Dicts {
		if ds.Code == "" {
			return nil, fmt.Errorf("seed dict #%d: code is required", i+1)
		}
	}
	for i, lc := range seed.Lookups {
		if lc.Code == "" || lc.DataSource == "" {
			return nil, fmt.Errorf("seed lookup #%d: code and dataSource are required", i+1)
		}
	}
	for i, pr := range seed.PageRules {
		if pr.PageCode == "" || pr.RuleType == "" {
			return nil, fmt.Errorf("seed page rule #%d: page and type are required", i+1)
		}
		doc, err := EncodePageRuleItems(pr.Items)
		if err != nil {
			return nil, fmt.Errorf("seed page rule %s/%s: %w", pr.PageCode, pr.ComponentKey, err)
		}
		pr.Rules = doc
	}
	return &seed, nil
}

// ButtonPolicy renders the page's buttons as a JSON array document.
func (p *PageSeed) ButtonPolicy() (string, error) {
	if len(p.Buttons) == 0 {
		return "[]", nil
	}
	return json.MarshalToString(p.Buttons)
}

// ColumnPolicy renders the page's column access as a JSON object document.
func (p *PageSeed) ColumnPolicy() (string, error) {
	if len(p.Columns) == 0 {
		return "{}", nil
	}
	return json.MarshalToString(p.Columns)
}
