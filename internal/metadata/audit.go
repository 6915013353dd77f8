package metadata

import "metatable/internal/sqlfmt"

// Audit fields are handled on every write and are queryable and sortable
// even when a table declares no column for them.
const (
	FieldID         = "id"
	FieldDeleted    = "deleted"
	FieldCreateTime = "createTime"
	FieldUpdateTime = "updateTime"
	FieldCreateBy   = "createBy"
	FieldUpdateBy   = "updateBy"
)

// AuditFields lists the audit fields in column order.
var AuditFields = []string{FieldID, FieldDeleted, FieldCreateTime, FieldUpdateTime, FieldCreateBy, FieldUpdateBy}

var auditDataTypes = map[string]string{
	FieldID:         "int",
	FieldDeleted:    "int",
	FieldCreateTime: "datetime",
	FieldUpdateTime: "datetime",
	FieldCreateBy:   "string",
	FieldUpdateBy:   "string",
}

func IsAuditField(field string) bool {
	_, ok := auditDataTypes[field]
	return ok
}

// AuditDataType returns the fixed data type of an audit field.
func AuditDataType(field string) string {
	return auditDataTypes[field]
}

// AuditColumn returns the physical column of an audit field in t. The id
// field maps to the table's primary key.
func (t *TableDescriptor) AuditColumn(field string) string {
	if field == FieldID {
		return t.PrimaryKey()
	}
	return sqlfmt.ToPhysical(field)
}
