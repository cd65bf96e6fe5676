// Package domain file: internal/core/domain/config_models.go
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ConnectionConfig 定义了当前激活的数据库连接参数。
// 同一时刻只有一个实例生效，由连接管理器持有。
type ConnectionConfig struct {
	DBType     string `json:"db_type" binding:"required"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	Database   string `json:"database"`
	MongoDBURI string `json:"mongodb_uri,omitempty"`
}

// ConnectionView 是对外展示的连接信息，从不包含密码明文。
type ConnectionView struct {
	DBType      string `json:"db_type"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	Database    string `json:"database"`
	MongoDBURI  string `json:"mongodb_uri,omitempty"`
	HasPassword bool   `json:"has_password"`
}

// Dialect 解析 DBType
func (c ConnectionConfig) Dialect() (Dialect, error) {
	return ParseDialect(c.DBType)
}

// Validate 校验配置是否足以建立连接。
func (c ConnectionConfig) Validate() error {
	d, err := c.Dialect()
	if err != nil {
		return err
	}
	switch d {
	case DialectMySQL, DialectPostgreSQL:
		if c.Host == "" {
			return fmt.Errorf("%s 连接缺少 host", d.DisplayName())
		}
		if c.Database == "" {
			return fmt.Errorf("%s 连接缺少 database", d.DisplayName())
		}
	case DialectMongoDB:
		if c.MongoDBURI == "" && c.Host == "" {
			return fmt.Errorf("MongoDB 连接需要 mongodb_uri 或 host")
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("端口 %d 超出范围", c.Port)
	}
	return nil
}

// Normalized 返回补全默认端口、规范化方言名称后的副本。
func (c ConnectionConfig) Normalized() ConnectionConfig {
	out := c
	out.Host = strings.TrimSpace(out.Host)
	out.Database = strings.TrimSpace(out.Database)
	if d, err := c.Dialect(); err == nil {
		out.DBType = string(d)
		if out.Port == 0 {
			out.Port = d.DefaultPort()
		}
	}
	return out
}

// View 返回去掉密码后的展示视图。
func (c ConnectionConfig) View() ConnectionView {
	return ConnectionView{
		DBType:      c.DBType,
		Host:        c.Host,
		Port:        c.Port,
		User:        c.User,
		Database:    c.Database,
		MongoDBURI:  MaskURI(c.MongoDBURI),
		HasPassword: c.Password != "",
	}
}

// MaskURI 把连接串中的密码替换为 ***。
func MaskURI(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	at := strings.LastIndex(uri, "@")
	if schemeEnd < 0 || at < schemeEnd {
		return uri
	}
	cred := uri[schemeEnd+3 : at]
	colon := strings.Index(cred, ":")
	if colon < 0 {
		return uri
	}
	return uri[:schemeEnd+3] + cred[:colon] + ":***" + uri[at:]
}

// Env 键名，与连接配置文件中的键一一对应
const (
	EnvDBType     = "DB_TYPE"
	EnvDBHost     = "DB_HOST"
	EnvDBPort     = "DB_PORT"
	EnvDBUser     = "DB_USER"
	EnvDBPassword = "DB_PASSWORD"
	EnvDBName     = "DB_NAME"
	EnvMongoDBURI = "MONGODB_URI"
)

// ToEnv 把配置转换为连接文件中的键值对
func (c ConnectionConfig) ToEnv() map[string]string {
	env := map[string]string{
		EnvDBType:     c.DBType,
		EnvDBHost:     c.Host,
		EnvDBUser:     c.User,
		EnvDBPassword: c.Password,
		EnvDBName:     c.Database,
		EnvMongoDBURI: c.MongoDBURI,
	}
	if c.Port > 0 {
		env[EnvDBPort] = strconv.Itoa(c.Port)
	} else {
		env[EnvDBPort] = ""
	}
	return env
}

// ConnectionConfigFromEnv 从键值对中读取配置，未知键被忽略。
func ConnectionConfigFromEnv(env map[string]string) (ConnectionConfig, error) {
	cfg := ConnectionConfig{
		DBType:     env[EnvDBType],
		Host:       env[EnvDBHost],
		User:       env[EnvDBUser],
		Password:   env[EnvDBPassword],
		Database:   env[EnvDBName],
		MongoDBURI: env[EnvMongoDBURI],
	}
	if p := strings.TrimSpace(env[EnvDBPort]); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return cfg, fmt.Errorf("无效的 %s: %q", EnvDBPort, p)
		}
		cfg.Port = port
	}
	return cfg, nil
}
