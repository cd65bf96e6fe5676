// file: internal/adapter/datasource/sqldb/schema.go
package sqldb

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// catalog 是方言相关的内省语句集合，每条按表查询的语句只接受一个表名参数。
type catalog struct {
	tables      string
	columns     string
	primaryKeys string
	foreignKeys string
}

var mysqlCatalog = catalog{
	tables: `SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`,
	columns: `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`,
	primaryKeys: `SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`,
	foreignKeys: `SELECT CONSTRAINT_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`,
}

var postgresCatalog = catalog{
	tables: `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`,
	columns: `SELECT column_name, data_type, is_nullable FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`,
	primaryKeys: `SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		     ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		    AND kcu.table_name = tc.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = current_schema() AND tc.table_name = $1
		ORDER BY kcu.ordinal_position`,
	// 外键直接读 pg_constraint：conkey 与 confkey 按位置一一对应，
	// 约束名只在表内唯一，所以用 conrelid 限定所属表。
	foreignKeys: `SELECT con.conname, att.attname, ref.relname, refatt.attname
		FROM pg_constraint con
		JOIN pg_class cls ON cls.oid = con.conrelid
		JOIN pg_namespace ns ON ns.oid = cls.relnamespace
		JOIN pg_class ref ON ref.oid = con.confrelid
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, refattnum, ord)
		JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = k.attnum
		JOIN pg_attribute refatt ON refatt.attrelid = con.confrelid AND refatt.attnum = k.refattnum
		WHERE con.contype = 'f' AND ns.nspname = current_schema() AND cls.relname = $1
		ORDER BY con.conname, k.ord`,
}

func catalogFor(d domain.Dialect) (catalog, error) {
	switch d {
	case domain.DialectMySQL:
		return mysqlCatalog, nil
	case domain.DialectPostgreSQL:
		return postgresCatalog, nil
	case domain.DialectMongoDB:
		return catalog{}, fmt.Errorf("%w: %s 不是关系型方言", domain.ErrUnsupportedDialect, d)
	}
	return catalog{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedDialect, d)
}

// GetSchema 实现 port.Database。先列出所有表，再并发加载每张表的列、主键与外键。
func (a *Adapter) GetSchema(ctx context.Context) (domain.SchemaDescription, error) {
	tables, err := a.listTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrSchemaUnavailable, err)
	}

	schema := make(domain.SchemaDescription, len(tables))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.introspectConcurrency)
	for _, table := range tables {
		g.Go(func() error {
			ts, err := a.loadTable(gctx, table)
			if err != nil {
				return fmt.Errorf("加载表 '%s' 结构失败: %w", table, err)
			}
			mu.Lock()
			schema[table] = ts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrSchemaUnavailable, err)
	}
	return schema, nil
}

func (a *Adapter) listTables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, a.catalog.tables)
	if err != nil {
		return nil, fmt.Errorf("查询表列表失败: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("扫描表名失败: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (a *Adapter) loadTable(ctx context.Context, table string) (domain.TableSchema, error) {
	var ts domain.TableSchema

	cols, err := a.loadColumns(ctx, table)
	if err != nil {
		return ts, err
	}
	pks, err := a.loadStrings(ctx, a.catalog.primaryKeys, table)
	if err != nil {
		return ts, fmt.Errorf("查询主键失败: %w", err)
	}
	fks, err := a.loadForeignKeys(ctx, table)
	if err != nil {
		return ts, err
	}

	ts.Columns = cols
	ts.PrimaryKeys = pks
	ts.ForeignKeys = fks
	return ts, nil
}

func (a *Adapter) loadColumns(ctx context.Context, table string) ([]domain.ColumnInfo, error) {
	rows, err := a.db.QueryContext(ctx, a.catalog.columns, table)
	if err != nil {
		return nil, fmt.Errorf("查询列信息失败: %w", err)
	}
	defer rows.Close()

	var cols []domain.ColumnInfo
	for rows.Next() {
		var name, typ, nullable string
		if err := rows.Scan(&name, &typ, &nullable); err != nil {
			return nil, fmt.Errorf("扫描列信息失败: %w", err)
		}
		cols = append(cols, domain.ColumnInfo{
			Name:     name,
			Type:     strings.ToUpper(typ),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	return cols, rows.Err()
}

func (a *Adapter) loadStrings(ctx context.Context, query, table string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// loadForeignKeys 按约束名聚合外键列，保持约束出现的顺序。
func (a *Adapter) loadForeignKeys(ctx context.Context, table string) ([]domain.ForeignKey, error) {
	rows, err := a.db.QueryContext(ctx, a.catalog.foreignKeys, table)
	if err != nil {
		return nil, fmt.Errorf("查询外键失败: %w", err)
	}
	defer rows.Close()

	fks := []domain.ForeignKey{}
	index := make(map[string]int)
	for rows.Next() {
		var constraint, column string
		var refTable, refColumn sql.NullString
		if err := rows.Scan(&constraint, &column, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("扫描外键失败: %w", err)
		}
		i, ok := index[constraint]
		if !ok {
			fks = append(fks, domain.ForeignKey{ReferredTable: refTable.String})
			i = len(fks) - 1
			index[constraint] = i
		}
		fks[i].ConstrainedColumns = append(fks[i].ConstrainedColumns, column)
		fks[i].ReferredColumns = append(fks[i].ReferredColumns, refColumn.String)
	}
	return fks, rows.Err()
}
