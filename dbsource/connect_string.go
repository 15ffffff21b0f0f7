package dbsource

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// ErrInvalidConnectString is returned when a connect string cannot be parsed.
var ErrInvalidConnectString = errors.New("invalid connect string")

// DBType names a database product.
type DBType int

// Supported database types.
const (
	DBTypeSQLServer DBType = iota
	DBTypeMySQL
	DBTypePostgreSQL
)

var dbTypeNames = map[DBType]string{
	DBTypeSQLServer:  "sql-server",
	DBTypeMySQL:      "mysql",
	DBTypePostgreSQL: "postgresql",
}

// String returns the connect string spelling of the type.
func (t DBType) String() string {
	if s, ok := dbTypeNames[t]; ok {
		return s
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// ParseDBType parses a connect string db-type value.
func ParseDBType(s string) (DBType, error) {
	for t, name := range dbTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidConnectString, "unknown db-type %q", s)
}

// Driver returns the database/sql driver name for the type.
func (t DBType) Driver() string {
	switch t {
	case DBTypeMySQL:
		return "mysql"
	case DBTypePostgreSQL:
		return "postgres"
	default:
		return "sqlserver"
	}
}

func (t DBType) defaultPort() int {
	switch t {
	case DBTypeMySQL:
		return 3306
	case DBTypePostgreSQL:
		return 5432
	default:
		return 1433
	}
}

// Connect string keys.
const (
	keyType           = "db-type"
	keyDataSource     = "db-data-source"
	keyInitialCatalog = "db-initial-catalog"
	keyUserName       = "db-user-name"
	keyPassword       = "db-password"
	keyWindowsAuth    = "db-use-windows-authentication"
	keyPort           = "db-port"
)

// ConnectString holds the settings needed to reach a database. Its text
// form is a semicolon separated list of key=value pairs in which a
// backslash escapes the next character.
type ConnectString struct {
	Type           DBType
	DataSource     string
	InitialCatalog string
	UserName       string
	Password       string
	UseWindowsAuth bool
	// Port is the TCP port; zero selects the product default.
	Port int
}

// ParseConnectString parses the text form. db-type and db-data-source are
// required; unknown keys are ignored.
func ParseConnectString(s string) (ConnectString, error) {
	var cs ConnectString
	var haveType bool
	for _, pair := range splitEscaped(s, ';') {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		kv := splitEscaped(pair, '=')
		if len(kv) != 2 {
			return ConnectString{}, errors.Wrapf(ErrInvalidConnectString, "malformed pair %q", pair)
		}
		key := strings.ToLower(strings.TrimSpace(unescape(kv[0])))
		value := unescape(kv[1])
		switch key {
		case keyType:
			t, err := ParseDBType(strings.TrimSpace(value))
			if err != nil {
				return ConnectString{}, err
			}
			cs.Type = t
			haveType = true
		case keyDataSource:
			cs.DataSource = value
		case keyInitialCatalog:
			cs.InitialCatalog = value
		case keyUserName:
			cs.UserName = value
		case keyPassword:
			cs.Password = value
		case keyWindowsAuth:
			b, err := strconv.ParseBool(strings.TrimSpace(value))
			if err != nil {
				return ConnectString{}, errors.Wrapf(ErrInvalidConnectString, "%s: %v", keyWindowsAuth, err)
			}
			cs.UseWindowsAuth = b
		case keyPort:
			p, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || p < 0 || p > 65535 {
				return ConnectString{}, errors.Wrapf(ErrInvalidConnectString, "%s: bad port %q", keyPort, value)
			}
			cs.Port = p
		}
	}
	if !haveType {
		return ConnectString{}, errors.Wrap(ErrInvalidConnectString, "missing "+keyType)
	}
	if cs.DataSource == "" {
		return ConnectString{}, errors.Wrap(ErrInvalidConnectString, "missing "+keyDataSource)
	}
	return cs, nil
}

// String formats the connect string. Empty optional values are omitted.
func (cs ConnectString) String() string {
	var b strings.Builder
	add := func(key, value string) {
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(escape(value))
	}
	add(keyType, cs.Type.String())
	add(keyDataSource, cs.DataSource)
	if cs.InitialCatalog != "" {
		add(keyInitialCatalog, cs.InitialCatalog)
	}
	if cs.UserName != "" {
		add(keyUserName, cs.UserName)
	}
	if cs.Password != "" {
		add(keyPassword, cs.Password)
	}
	if cs.UseWindowsAuth {
		add(keyWindowsAuth, "true")
	}
	if cs.Port != 0 {
		add(keyPort, strconv.Itoa(cs.Port))
	}
	return b.String()
}

// Driver returns the database/sql driver name.
func (cs ConnectString) Driver() string {
	return cs.Type.Driver()
}

func (cs ConnectString) port() int {
	if cs.Port != 0 {
		return cs.Port
	}
	return cs.Type.defaultPort()
}

// DSN returns the data source name for the driver.
func (cs ConnectString) DSN() string {
	switch cs.Type {
	case DBTypeMySQL:
		cfg := mysql.NewConfig()
		cfg.User = cs.UserName
		cfg.Passwd = cs.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(cs.DataSource, strconv.Itoa(cs.port()))
		cfg.DBName = cs.InitialCatalog
		cfg.ParseTime = true
		return cfg.FormatDSN()
	case DBTypePostgreSQL:
		u := url.URL{
			Scheme:   "postgres",
			Host:     net.JoinHostPort(cs.DataSource, strconv.Itoa(cs.port())),
			Path:     "/" + cs.InitialCatalog,
			RawQuery: "sslmode=disable",
		}
		if cs.UserName != "" {
			u.User = url.UserPassword(cs.UserName, cs.Password)
		}
		return u.String()
	default:
		host, instance, _ := strings.Cut(cs.DataSource, `\`)
		u := url.URL{Scheme: "sqlserver"}
		if instance != "" && cs.Port == 0 {
			u.Host = host
			u.Path = "/" + instance
		} else {
			u.Host = net.JoinHostPort(host, strconv.Itoa(cs.port()))
		}
		if !cs.UseWindowsAuth && cs.UserName != "" {
			u.User = url.UserPassword(cs.UserName, cs.Password)
		}
		q := url.Values{}
		if cs.InitialCatalog != "" {
			q.Set("database", cs.InitialCatalog)
		}
		u.RawQuery = q.Encode()
		return u.String()
	}
}

// splitEscaped splits s on sep, leaving escapes in place.
func splitEscaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ';', '=', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
