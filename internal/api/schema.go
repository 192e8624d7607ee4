package api

import (
	"net/http"

	"github.com/sqlchat/sqlchat/internal/query"
)

type schemaTable struct {
	Database string         `json:"database"`
	Schema   string         `json:"schema"`
	Table    string         `json:"table"`
	Columns  []query.Column `json:"columns"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema reader is not configured", false, nil)
		return
	}
	columns, err := deps.Schema.Columns(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_ERROR", "failed to read schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": groupColumns(columns)})
}

// groupColumns groups columns by table, keeping first-seen table order.
func groupColumns(columns []query.Column) []schemaTable {
	index := map[[3]string]int{}
	tables := make([]schemaTable, 0)
	for _, column := range columns {
		key := [3]string{column.Database, column.Schema, column.Table}
		i, ok := index[key]
		if !ok {
			i = len(tables)
			index[key] = i
			tables = append(tables, schemaTable{Database: column.Database, Schema: column.Schema, Table: column.Table})
		}
		tables[i].Columns = append(tables[i].Columns, column)
	}
	return tables
}
