package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"metatable/internal/apperr"
	"metatable/internal/metadata"
)

// Record statuses understood by Save.
const (
	StatusAdded     = "added"
	StatusModified  = "modified"
	StatusDeleted   = "deleted"
	StatusUnchanged = "unchanged"
)

// RecordItem is one row of a save request with its edit status.
type RecordItem struct {
	ID     any            `json:"id"`
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
}

// SaveRequest saves a master row and any number of detail rows in one call.
// Details are keyed by detail table code. The master table code may also be
// carried in the master data under "_tableCode".
type SaveRequest struct {
	PageCode  string                  `json:"pageCode"`
	TableCode string                  `json:"tableCode"`
	Master    *RecordItem             `json:"master"`
	Details   map[string][]RecordItem `json:"details"`
}

// Save applies a status-tagged master/detail edit. Every row that is not
// being deleted is validated before it is written; added detail rows get the
// master key in their foreign key field. Returns the master key.
func (e *Engine) Save(ctx context.Context, req Request, sr SaveRequest) (masterID any, err error) {
	if sr.Master == nil {
		return nil, apperr.InvalidArgumentf("master record is required")
	}
	master := *sr.Master
	master.Data = copyData(master.Data)

	code := sr.TableCode
	if code == "" {
		code = cast.ToString(master.Data["_tableCode"])
	}
	delete(master.Data, "_tableCode")
	if strings.TrimSpace(code) == "" {
		return nil, apperr.InvalidArgumentf("master table code is required")
	}

	ctx, span := startSpan(ctx, "save", code)
	defer func() { endSpan(span, err) }()

	if err := e.validate(ctx, req, code, master); err != nil {
		return nil, err
	}

	switch master.Status {
	case StatusAdded:
		if masterID, err = e.Insert(ctx, req, code, master.Data); err != nil {
			return nil, err
		}
	case StatusModified:
		masterID = master.ID
		if err := e.Update(ctx, req, code, master.ID, master.Data); err != nil {
			return nil, err
		}
	case StatusUnchanged:
		masterID = master.ID
	case StatusDeleted:
		if err := e.Delete(ctx, req, code, master.ID); err != nil {
			return nil, err
		}
		return master.ID, nil
	default:
		return nil, apperr.InvalidArgumentf("invalid master status %q", master.Status)
	}

	codes := make([]string, 0, len(sr.Details))
	for c := range sr.Details {
		codes = append(codes, c)
	}
	sort.Strings(codes)

	for _, dc := range codes {
		items := sr.Details[dc]
		if len(items) == 0 {
			continue
		}
		detail, err := e.catalog.Resolve(ctx, dc)
		if err != nil {
			return nil, err
		}
		fkField := detail.ForeignKeyField()

		for _, item := range items {
			if item.Status == StatusUnchanged || item.Status == "" {
				continue
			}
			item.Data = copyData(item.Data)
			if err := e.validate(ctx, req, dc, item); err != nil {
				return nil, err
			}

			switch item.Status {
			case StatusAdded:
				if fkField != "" && masterID != nil {
					item.Data[fkField] = masterID
				}
				if _, err := e.Insert(ctx, req, dc, item.Data); err != nil {
					return nil, err
				}
			case StatusModified:
				if err := e.Update(ctx, req, dc, item.ID, item.Data); err != nil {
					return nil, err
				}
			case StatusDeleted:
				if err := e.Delete(ctx, req, dc, item.ID); err != nil {
					return nil, err
				}
			default:
				return nil, apperr.InvalidArgumentf("invalid status %q for %s row", item.Status, dc)
			}
		}
	}
	return masterID, nil
}

func (e *Engine) validate(ctx context.Context, req Request, code string, item RecordItem) error {
	if e.validator == nil || item.Status == StatusDeleted {
		return nil
	}
	data := copyData(item.Data)
	if item.ID != nil {
		data[metadata.FieldID] = item.ID
	}
	return e.validator.ValidateRow(ctx, req.Q, code, "", data)
}

// MasterDetailRequest inserts a new master row and the detail rows linked to
// it by temporary id. Details whose masterTempId does not match the master's
// tempId are ignored.
type MasterDetailRequest struct {
	MasterTableCode string            `json:"masterTableCode"`
	Master          map[string]any    `json:"master"`
	Details         []MasterDetailSet `json:"details"`
}

type MasterDetailSet struct {
	TableCode string           `json:"tableCode"`
	Rows      []map[string]any `json:"rows"`
}

// SaveMasterDetail inserts the master, then every linked detail row with the
// new master key in its foreign key field. Returns the real key of every row
// that carried a tempId, keyed by that tempId.
func (e *Engine) SaveMasterDetail(ctx context.Context, req Request, mr MasterDetailRequest) (ids map[string]int64, err error) {
	if mr.Master == nil || strings.TrimSpace(mr.MasterTableCode) == "" {
		return nil, apperr.InvalidArgumentf("master table code and data are required")
	}
	ctx, span := startSpan(ctx, "save_master_detail", mr.MasterTableCode)
	defer func() { endSpan(span, err) }()

	master := copyData(mr.Master)
	tempID := cast.ToString(master["tempId"])
	delete(master, "tempId")

	masterID, err := e.Insert(ctx, req, mr.MasterTableCode, master)
	if err != nil {
		return nil, err
	}
	ids = make(map[string]int64)
	if tempID != "" {
		ids[tempID] = masterID
	}

	for _, set := range mr.Details {
		if strings.TrimSpace(set.TableCode) == "" || len(set.Rows) == 0 {
			continue
		}
		detail, err := e.catalog.Resolve(ctx, set.TableCode)
		if err != nil {
			return nil, err
		}
		fkField := detail.ForeignKeyField()
		if fkField == "" {
			return nil, apperr.InvalidArgumentf("detail table %s has no parent foreign key column", set.TableCode)
		}

		for _, r := range set.Rows {
			if r == nil || tempID == "" || cast.ToString(r["masterTempId"]) != tempID {
				continue
			}
			row := copyData(r)
			rowTemp := cast.ToString(row["tempId"])
			delete(row, "tempId")
			delete(row, "masterTempId")
			row[fkField] = masterID
			id, err := e.Insert(ctx, req, set.TableCode, row)
			if err != nil {
				return nil, err
			}
			if rowTemp != "" {
				ids[rowTemp] = id
			}
		}
	}
	return ids, nil
}
