package metadata

import (
	"log"

	"metatable/internal/sqlfmt"
)

// TableDescriptor describes one logical table. Reads go through QueryView,
// writes go to TargetTable.
type TableDescriptor struct {
	Code            string              `json:"tableCode" yaml:"code"`
	Name            string              `json:"tableName" yaml:"name"`
	QueryView       string              `json:"queryView" yaml:"queryView"`
	TargetTable     string              `json:"targetTable" yaml:"targetTable"`
	SequenceName    string              `json:"sequenceName" yaml:"sequence"`
	PKColumn        string              `json:"pkColumn" yaml:"pkColumn"`
	ParentTableCode string              `json:"parentTableCode,omitempty" yaml:"parentTableCode"`
	ParentFKColumn  string              `json:"parentFkColumn,omitempty" yaml:"parentFkColumn"`
	ValidationRules string              `json:"-" yaml:"-"`
	ActionRules     string              `json:"-" yaml:"-"`
	Columns         []*ColumnDescriptor `json:"columns" yaml:"columns"`
}

// ReadView returns the relation queries select from.
func (t *TableDescriptor) ReadView() string {
	if t.QueryView != "" {
		return t.QueryView
	}
	return t.TargetTable
}

// WriteTable returns the relation inserts and updates go to.
func (t *TableDescriptor) WriteTable() string {
	if t.TargetTable != "" {
		return t.TargetTable
	}
	return t.QueryView
}

// PrimaryKey returns the physical key column, ID when undeclared.
func (t *TableDescriptor) PrimaryKey() string {
	if t.PKColumn != "" {
		return t.PKColumn
	}
	return "ID"
}

// Column returns the column with the given field name, or nil.
func (t *TableDescriptor) Column(field string) *ColumnDescriptor {
	for _, c := range t.Columns {
		if c.FieldName == field {
			return c
		}
	}
	return nil
}

// FieldNames maps upper-cased physical names (read and write) to field names.
func (t *TableDescriptor) FieldNames() map[string]string {
	m := make(map[string]string, len(t.Columns)*2+1)
	for _, c := range t.Columns {
		m[upper(c.WriteName())] = c.FieldName
		m[upper(c.ReadName())] = c.FieldName
	}
	m[upper(t.PrimaryKey())] = FieldID
	return m
}

// ForeignKeyField is the field name detail rows carry the master id in.
func (t *TableDescriptor) ForeignKeyField() string {
	if t.ParentFKColumn == "" {
		return ""
	}
	if c := t.columnByWriteName(t.ParentFKColumn); c != nil {
		return c.FieldName
	}
	return sqlfmt.ToField(t.ParentFKColumn)
}

func (t *TableDescriptor) columnByWriteName(name string) *ColumnDescriptor {
	for _, c := range t.Columns {
		if upper(c.WriteName()) == upper(name) {
			return c
		}
	}
	return nil
}

// WithColumns returns a shallow copy of t carrying cols. Cached descriptors
// are shared, so callers narrow through copies.
func (t *TableDescriptor) WithColumns(cols []*ColumnDescriptor) *TableDescriptor {
	cp := *t
	cp.Columns = cols
	return &cp
}

// ValidationRuleList parses the validation-rule document. A malformed
// document is logged and treated as no rules.
func (t *TableDescriptor) ValidationRuleList() []ValidationRule {
	rules, err := ParseValidationRules(t.ValidationRules)
	if err != nil {
		log.Printf("WARN: table %s: ignoring malformed validation rules: %v", t.Code, err)
		return nil
	}
	return rules
}

// ActionRuleList parses the action-rule document. A malformed document is
// logged and treated as no rules.
func (t *TableDescriptor) ActionRuleList() []ActionRule {
	rules, err := ParseActionRules(t.ActionRules)
	if err != nil {
		log.Printf("WARN: table %s: ignoring malformed action rules: %v", t.Code, err)
		return nil
	}
	return rules
}
