package metadata

import (
	"strings"

	"gopkg.in/yaml.v3"

	"metatable/internal/sqlfmt"
)

type ColumnDescriptor struct {
	FieldName    string `json:"fieldName" yaml:"field"`
	ColumnName   string `json:"columnName" yaml:"column"`
	QueryColumn  string `json:"queryColumn,omitempty" yaml:"queryColumn"`
	TargetColumn string `json:"targetColumn,omitempty" yaml:"targetColumn"`
	HeaderText   string `json:"headerText" yaml:"header"`
	DataType     string `json:"dataType" yaml:"type"`
	DisplayOrder int    `json:"displayOrder" yaml:"order"`
	Visible      bool   `json:"visible" yaml:"visible"`
	Editable     bool   `json:"editable" yaml:"editable"`
	Required     bool   `json:"required" yaml:"required"`
	Searchable   bool   `json:"searchable" yaml:"searchable"`
	Sortable     bool   `json:"sortable" yaml:"sortable"`
	Virtual      bool   `json:"virtual" yaml:"virtual"`
	Width        int    `json:"width,omitempty" yaml:"width"`
	DictType     string `json:"dictType,omitempty" yaml:"dictType"`
}

// UnmarshalYAML applies the permissive defaults (visible, editable) before
// decoding a seed column.
func (c *ColumnDescriptor) UnmarshalYAML(node *yaml.Node) error {
	type plain ColumnDescriptor
	p := plain{Visible: true, Editable: true, DataType: "string"}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = ColumnDescriptor(p)
	return nil
}

// ReadName is the physical name used in WHERE and ORDER BY.
func (c *ColumnDescriptor) ReadName() string {
	if c.QueryColumn != "" {
		return c.QueryColumn
	}
	return c.physical()
}

// WriteName is the physical name used in INSERT and UPDATE.
func (c *ColumnDescriptor) WriteName() string {
	if c.TargetColumn != "" {
		return c.TargetColumn
	}
	return c.physical()
}

func (c *ColumnDescriptor) physical() string {
	if c.ColumnName != "" {
		return c.ColumnName
	}
	return sqlfmt.ToPhysical(c.FieldName)
}

func upper(s string) string { return strings.ToUpper(s) }
