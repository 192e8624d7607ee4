package schemaindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sqlchat/sqlchat/internal/query"
)

const ItemTypeInformationSchema = "is"

// PlanItem is one training document describing the columns of a table.
type PlanItem struct {
	Type     string
	Database string
	Schema   string
	Table    string
	Document string
}

func (p PlanItem) Name() string {
	return p.Database + "." + p.Schema + "." + p.Table
}

// TrainingPlan groups INFORMATION_SCHEMA.COLUMNS rows into one document per
// table, in first-seen order.
func TrainingPlan(columns []query.Column) []PlanItem {
	type tableKey struct{ database, schema, table string }
	var order []tableKey
	grouped := map[tableKey][]query.Column{}
	for _, column := range columns {
		key := tableKey{column.Database, column.Schema, column.Table}
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], column)
	}

	plan := make([]PlanItem, 0, len(order))
	for _, key := range order {
		var doc strings.Builder
		fmt.Fprintf(&doc, "The following columns are in the %s table in the %s database:\n\n", key.table, key.database)
		doc.WriteString("| table_catalog | table_schema | table_name | column_name | data_type |\n")
		doc.WriteString("|---|---|---|---|---|\n")
		for _, column := range grouped[key] {
			fmt.Fprintf(&doc, "| %s | %s | %s | %s | %s |\n", column.Database, column.Schema, column.Table, column.Name, column.DataType)
		}
		plan = append(plan, PlanItem{
			Type:     ItemTypeInformationSchema,
			Database: key.database,
			Schema:   key.schema,
			Table:    key.table,
			Document: doc.String(),
		})
	}
	return plan
}

// Train embeds and stores every plan item. Point ids derive from the table
// name, so retraining replaces earlier documents.
func (ix *Indexer) Train(ctx context.Context, plan []PlanItem, collection string) (Summary, error) {
	documents := make([]document, 0, len(plan))
	for _, item := range plan {
		documents = append(documents, document{
			id:   uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+item.Name())).String(),
			text: item.Document,
			payload: map[string]any{
				"item_type": item.Type,
				"database":  item.Database,
				"schema":    item.Schema,
				"table":     item.Table,
				"document":  item.Document,
			},
		})
	}
	return ix.store(ctx, collection, documents)
}

// WithoutTables drops the columns of the named tables, matched by table name
// in any schema.
func WithoutTables(columns []query.Column, tables ...string) []query.Column {
	if len(tables) == 0 {
		return columns
	}
	skip := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		skip[table] = struct{}{}
	}
	kept := make([]query.Column, 0, len(columns))
	for _, column := range columns {
		if _, ok := skip[column.Table]; ok {
			continue
		}
		kept = append(kept, column)
	}
	return kept
}
