package server

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/IMQS/fulltext/fulltext"
	"github.com/IMQS/log"
	serviceconfig "github.com/IMQS/serviceconfigsgo"
	"github.com/go-sql-driver/mysql"
)

/*
Sample config

If you don't specify logfiles, then stderr is used for the Error log,
and stdout is used for the Access log.

The index database is either given inline, or through IndexDBAlias, which
is resolved by the configuration service. Valid drivers are postgres, mysql and sqlite.
For sqlite, Database is the filename (":memory:" is accepted, but is lost on exit).

{
	"DisableAutoIndexRebuild": false,
	"HTTP": {
		"Bind": "",
		"Port": "2008"
	},
	"Log": {
		"ErrorFile": "/var/log/imqs-fulltext/error.log",
		"AccessFile": "/var/log/imqs-fulltext/access.log"
	},
	"Index": {
		"Driver":        "postgres",
		"Host":          "127.0.0.1",
		"Database":      "main",
		"User":          "imqs",
		"Password":      "password",
		"MaxIdleConns":  4,
		"MaxOpenConns":  16
	},
	"Types": {
		"Article": {
			"Table": "articles",
			"Fields": ["title", "body"],
			"Columns": ["title", "published"]
		},
		"Tag": {
			"Table": "tags",
			"KeyColumn": "tag_id",
			"Fields": "name"
		}
	}
}
*/

const (
	serviceConfigFileName = "fulltext.json"
	serviceConfigVersion  = 1
	serviceName           = "ImqsFullText"
)

type ConfigHttp struct {
	Bind string
	Port string
}

type ConfigLog struct {
	ErrorFile  string
	AccessFile string
}

type ConfigDatabase struct {
	Driver   string `json:",omitempty"`
	Host     string `json:",omitempty"`
	Database string `json:",omitempty"`
	User     string `json:",omitempty"`
	Password string `json:",omitempty"`
	Port     uint16 `json:",omitempty"`

	MaxIdleConns int `json:",omitempty"`
	MaxOpenConns int `json:",omitempty"`
}

func (c *ConfigDatabase) DSN() string {
	switch c.Driver {
	case "mysql":
		port := c.Port
		if port == 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(int(port)))
		mc.DBName = c.Database
		return mc.FormatDSN()
	case "sqlite":
		return c.Database
	}
	conStr := fmt.Sprintf("host=%v user=%v password=%v dbname=%v sslmode=disable", c.Host, c.User, c.Password, c.Database)
	if c.Port != 0 {
		conStr += fmt.Sprintf(" port=%v", c.Port)
	}
	return conStr
}

// ConfigType declares a searchable entity type. Fields is either a single column name,
// or a list of column names. It is kept loosely typed, because that is how people write it.
type ConfigType struct {
	Table     string
	KeyColumn string   `json:",omitempty"`
	Columns   []string `json:",omitempty"`
	Fields    interface{}

	// Populated by postJSONLoad
	fields []string
}

type Config struct {
	DisableAutoIndexRebuild bool // Stale types are then only reindexed through the 'reindex' command
	VerboseLogging          bool
	HTTP                    ConfigHttp
	Log                     ConfigLog
	Index                   ConfigDatabase
	IndexDBAlias            string // Takes precedence over Index. Resolved through the configuration service.
	CompilerCacheSize       int    // Number of compiled queries to remember. Zero picks a default.
	Types                   map[string]*ConfigType
}

func (c *Config) typeNames() []string {
	names := []string{}
	for name := range c.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config errors are reported here, rather than during load, so that they reach the log files
func (c *Config) postJSONLoad(logger *log.Logger) error {
	if c.IndexDBAlias == "" && c.Index.Driver == "" {
		return fmt.Errorf("No index database configured. Specify either Index.Driver or IndexDBAlias")
	}
	for name, t := range c.Types {
		if t == nil {
			return fmt.Errorf("Type %v has no configuration", name)
		}
		t.fields = fulltext.ParseFields(t.Fields, logger)
		if len(t.fields) == 0 {
			logger.Warnf("Type %v has no indexed fields. Its entities will have empty tokens", name)
		}
	}
	return nil
}

func (c *Config) indexTypeConfig(name string) fulltext.IndexedTypeConfig {
	t := c.Types[name]
	return fulltext.IndexedTypeConfig{
		Fields:    t.fields,
		Table:     t.Table,
		KeyColumn: t.KeyColumn,
		Columns:   t.Columns,
	}
}

func (c *Config) LoadFile(filename string) error {
	// We don't run postJSONLoad here, because if there is a problem with the config, then we'd
	// like to at least be able to emit log messages, if that's at all possible.
	return serviceconfig.GetConfig(filename, serviceName, serviceConfigVersion, serviceConfigFileName, c)
}

func (c *Config) LoadString(s string) error {
	return json.Unmarshal([]byte(s), c)
}
