// file: internal/adapter/datasource/sqldb/dsn.go
package sqldb

import (
	"QueryMind/internal/core/domain"
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // 注册 "pgx" 驱动
)

// MySQLDSN 由连接配置生成 go-sql-driver/mysql 的 DSN
func MySQLDSN(cfg domain.ConnectionConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(portOrDefault(cfg.Port, domain.DialectMySQL)))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// PostgresDSN 由连接配置生成 pgx 可识别的 URL 形式连接串
func PostgresDSN(cfg domain.ConnectionConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(portOrDefault(cfg.Port, domain.DialectPostgreSQL))),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	q := url.Values{}
	q.Set("sslmode", "prefer")
	u.RawQuery = q.Encode()
	return u.String()
}

func portOrDefault(port int, d domain.Dialect) int {
	if port > 0 {
		return port
	}
	return d.DefaultPort()
}

// Open 按方言打开连接池并执行一次 Ping。
func Open(ctx context.Context, cfg domain.ConnectionConfig) (*Adapter, error) {
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, err
	}

	var driverName, dsn string
	switch dialect {
	case domain.DialectMySQL:
		driverName, dsn = "mysql", MySQLDSN(cfg)
	case domain.DialectPostgreSQL:
		driverName, dsn = "pgx", PostgresDSN(cfg)
	case domain.DialectMongoDB:
		return nil, fmt.Errorf("%w: sqldb 不处理 %s", domain.ErrUnsupportedDialect, dialect)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedDialect, dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 %s 连接失败: %w", dialect.DisplayName(), err)
	}
	configurePool(db)

	adapter, err := New(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := adapter.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("信息: [SQLDB] 已连接 %s %s/%s", dialect.DisplayName(), cfg.Host, cfg.Database)
	return adapter, nil
}
