package db

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ammar0144/entity4go/pkg/schema"
)

// UniqueKeyName is the name of the unique key over columns of table. The
// driver reads it back out of duplicate-key errors.
func UniqueKeyName(table string, columns ...string) string {
	return "uq_" + table + "_" + strings.Join(columns, "_")
}

// UniqueKeys lists every unique key a registry implies, by table and key
// name: unique fields and the member pair of compound join tables
func UniqueKeys(reg *schema.Registry) map[string]map[string][]string {
	keys := make(map[string]map[string][]string)
	add := func(table string, cols ...string) {
		if keys[table] == nil {
			keys[table] = make(map[string][]string)
		}
		keys[table][UniqueKeyName(table, cols...)] = cols
	}
	for _, t := range reg.Types() {
		for _, f := range t.Fields {
			if f.IsUnique() {
				add(t.Table, f.Column)
			}
		}
		for i := range t.Relations {
			rel := &t.Relations[i]
			if rel.Shape() == schema.ManyToManyCompound {
				add(rel.Join.Table, joinPair(rel.Join)...)
			}
		}
	}
	return keys
}

// CreateTableStatements renders MySQL CREATE TABLE IF NOT EXISTS statements
// for every entity table and join table of a built registry, sorted by table
func CreateTableStatements(reg *schema.Registry) ([]string, error) {
	tables := make(map[string]string)
	for _, t := range reg.Types() {
		tables[t.Table] = entityTable(t)
		for i := range t.Relations {
			rel := &t.Relations[i]
			switch rel.Shape() {
			case schema.ManyToManyCompound, schema.ManyToManyExplicit:
				ddl := joinTable(rel.Join)
				if prev, ok := tables[rel.Join.Table]; ok && prev != ddl {
					return nil, fmt.Errorf("join table %s is declared with conflicting columns", rel.Join.Table)
				}
				tables[rel.Join.Table] = ddl
			}
		}
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = tables[name]
	}
	return out, nil
}

func entityTable(t *schema.EntityType) string {
	lines := []string{MySQLQuote(schema.IDField) + " BINARY(16) NOT NULL"}
	var uniques []string
	for _, f := range t.Fields {
		lines = append(lines, columnDef(f))
		if f.IsUnique() {
			uniques = append(uniques, uniqueKey(t.Table, f.Column))
		}
	}
	lines = append(lines, "PRIMARY KEY ("+MySQLQuote(schema.IDField)+")")
	lines = append(lines, uniques...)
	return createTable(t.Table, lines)
}

func joinTable(j *schema.JoinSpec) string {
	var lines []string
	if j.IDColumn != "" {
		lines = append(lines, MySQLQuote(j.IDColumn)+" BINARY(16) NOT NULL")
	}
	pair := joinPair(j)
	for _, c := range pair {
		lines = append(lines, MySQLQuote(c)+" BINARY(16) NOT NULL")
	}
	props := append([]schema.Field(nil), j.Properties...)
	sort.Slice(props, func(a, b int) bool { return props[a].Column < props[b].Column })
	for _, p := range props {
		lines = append(lines, columnDef(p))
	}
	if j.IDColumn != "" {
		lines = append(lines, "PRIMARY KEY ("+MySQLQuote(j.IDColumn)+")")
		lines = append(lines, fmt.Sprintf("KEY %s (%s, %s)",
			MySQLQuote("ix_"+j.Table+"_"+strings.Join(pair, "_")), MySQLQuote(pair[0]), MySQLQuote(pair[1])))
	} else {
		lines = append(lines, uniqueKey(j.Table, pair...))
	}
	return createTable(j.Table, lines)
}

// joinPair returns the member columns of a join table in a side-independent order
func joinPair(j *schema.JoinSpec) []string {
	pair := []string{j.LocalColumn, j.RemoteColumn}
	sort.Strings(pair)
	return pair
}

func columnDef(f schema.Field) string {
	def := MySQLQuote(f.Column) + " " + columnType(f)
	if f.Kind == schema.Required {
		return def + " NOT NULL"
	}
	return def + " NULL"
}

func columnType(f schema.Field) string {
	if f.Kind == schema.EncryptedUnique {
		return "VARCHAR(512)"
	}
	switch f.Type {
	case schema.TypeInt:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeTime:
		return "DATETIME(6)"
	case schema.TypeGUID:
		return "BINARY(16)"
	case schema.TypeJSON:
		return "JSON"
	default:
		return "VARCHAR(255)"
	}
}

func uniqueKey(table string, cols ...string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = MySQLQuote(c)
	}
	return fmt.Sprintf("UNIQUE KEY %s (%s)", MySQLQuote(UniqueKeyName(table, cols...)), strings.Join(quoted, ", "))
}

func createTable(table string, lines []string) string {
	return "CREATE TABLE IF NOT EXISTS " + MySQLQuote(table) + " (\n  " +
		strings.Join(lines, ",\n  ") + "\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
}
