package strategies

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/rotation"
	"github.com/systmms/rotator/pkg/secretstore"
)

// Engines understood by the sql strategy.
const (
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
)

var engineAliases = map[string]string{
	"postgres":   EnginePostgres,
	"postgresql": EnginePostgres,
	"mysql":      EngineMySQL,
	"mariadb":    EngineMySQL,
}

// Credentials is the JSON document stored in a database secret.
type Credentials struct {
	Engine   string `json:"engine"`
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname,omitempty"`
	SSLMode  string `json:"sslmode,omitempty"`
}

// ParseCredentials decodes and validates a database secret value.
func ParseCredentials(value string) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal([]byte(value), &c); err != nil {
		return Credentials{}, fmt.Errorf("database secret is not valid JSON: %w", err)
	}

	engine, ok := engineAliases[strings.ToLower(c.Engine)]
	if !ok {
		return Credentials{}, fmt.Errorf("unsupported database engine: %q", c.Engine)
	}
	c.Engine = engine

	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("database secret is missing %s", strings.Join(missing, ", "))
	}
	return c, nil
}

// Driver returns the database/sql driver name for the engine.
func (c Credentials) Driver() string {
	return c.Engine
}

// DSN builds the driver connection string.
func (c Credentials) DSN() string {
	switch c.Engine {
	case EngineMySQL:
		port := c.Port
		if port == 0 {
			port = 3306
		}
		cfg := mysql.NewConfig()
		cfg.User = c.Username
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
		cfg.DBName = c.DBName
		cfg.ParseTime = true
		cfg.Timeout = 5 * time.Second
		return cfg.FormatDSN()
	default:
		port := c.Port
		if port == 0 {
			port = 5432
		}
		sslmode := c.SSLMode
		if sslmode == "" {
			sslmode = "require"
		}
		dbname := c.DBName
		if dbname == "" {
			dbname = "postgres"
		}
		parts := []string{
			"host=" + pqValue(c.Host),
			"port=" + strconv.Itoa(port),
			"dbname=" + pqValue(dbname),
			"user=" + pqValue(c.Username),
			"password=" + pqValue(c.Password),
			"sslmode=" + pqValue(sslmode),
			"connect_timeout=5",
		}
		return strings.Join(parts, " ")
	}
}

// pqValue quotes a keyword/value connection parameter.
func pqValue(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// OpenFunc opens an authenticated connection with the given credentials. A
// nil error means the credentials logged in.
type OpenFunc func(ctx context.Context, c Credentials) (*sql.DB, error)

// Open is the default OpenFunc.
func Open(ctx context.Context, c Credentials) (*sql.DB, error) {
	db, err := sql.Open(c.Driver(), c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// SQLOptions configures the sql strategy.
type SQLOptions struct {
	Password RandomOptions
	Open     OpenFunc
	Timeout  time.Duration
	Logger   *logging.Logger
}

// SQL rotates the password of a single database user in place.
type SQL struct {
	password RandomOptions
	open     OpenFunc
	timeout  time.Duration
	logger   *logging.Logger
}

// NewSQL creates a sql strategy.
func NewSQL(opts SQLOptions) *SQL {
	s := &SQL{
		password: opts.Password.withDefaults(),
		open:     opts.Open,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
	if s.open == nil {
		s.open = Open
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// Name returns the strategy name.
func (s *SQL) Name() string {
	return "sql"
}

// GenerateSecret copies the CURRENT document with a new password.
func (s *SQL) GenerateSecret(ctx context.Context, t rotation.Target) (string, error) {
	current, err := t.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("read CURRENT value: %w", err)
	}
	if _, err := ParseCredentials(current.Value); err != nil {
		return "", fmt.Errorf("CURRENT value: %w", err)
	}

	password, err := newPassword(ctx, t.Store, s.password.Spec())
	if err != nil {
		return "", err
	}

	value, _, err := replaceField(current.Value, "password", password)
	return value, err
}

// SetSecret changes the database password to the PENDING one. If the PENDING
// credentials already log in there is nothing to do.
func (s *SQL) SetSecret(ctx context.Context, t rotation.Target) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pending, err := s.credentials(ctx, t.Pending, "PENDING")
	if err != nil {
		return err
	}

	if db, err := s.open(ctx, pending); err == nil {
		_ = db.Close()
		s.logger.Info("PENDING credentials for %s already valid on %s", pending.Username, pending.Host)
		return nil
	}

	current, err := s.credentials(ctx, t.Current, "CURRENT")
	if err != nil {
		return err
	}
	if current.Username != pending.Username {
		return fmt.Errorf("PENDING username %q does not match CURRENT username %q", pending.Username, current.Username)
	}

	db, err := s.open(ctx, current)
	if err != nil {
		s.logger.Warn("CURRENT credentials rejected by %s, trying PREVIOUS", current.Host)
		previous, prevErr := s.credentials(ctx, t.Previous, "PREVIOUS")
		if prevErr != nil {
			return fmt.Errorf("unable to log into database with CURRENT credentials: %w", err)
		}
		previous.Host, previous.Port, previous.DBName = pending.Host, pending.Port, pending.DBName
		db, err = s.open(ctx, previous)
		if err != nil {
			return fmt.Errorf("unable to log into database with CURRENT or PREVIOUS credentials: %w", err)
		}
	}
	defer func() { _ = db.Close() }()

	stmt, err := AlterPasswordStatement(pending)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to set password for %s: %w", pending.Username, err)
	}

	s.logger.Info("Set PENDING password for %s on %s", pending.Username, pending.Host)
	return nil
}

// TestSecret logs in with the PENDING credentials and runs a trivial query.
func (s *SQL) TestSecret(ctx context.Context, t rotation.Target) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pending, err := s.credentials(ctx, t.Pending, "PENDING")
	if err != nil {
		return err
	}

	db, err := s.open(ctx, pending)
	if err != nil {
		return fmt.Errorf("unable to log into database with PENDING credentials: %w", err)
	}
	defer func() { _ = db.Close() }()

	var now interface{}
	if err := db.QueryRowContext(ctx, "SELECT NOW()").Scan(&now); err != nil {
		return fmt.Errorf("verification query failed: %w", err)
	}

	s.logger.Info("PENDING credentials for %s verified on %s", pending.Username, pending.Host)
	return nil
}

func (s *SQL) credentials(ctx context.Context, read func(context.Context) (secretstore.SecretValue, error), stage string) (Credentials, error) {
	v, err := read(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("read %s value: %w", stage, err)
	}
	c, err := ParseCredentials(v.Value)
	if err != nil {
		return Credentials{}, fmt.Errorf("%s value: %w", stage, err)
	}
	return c, nil
}

// AlterPasswordStatement returns the statement that sets c.Password for
// c.Username, with the identifier and literal quoted for the engine. The
// session must be logged in as c.Username: MySQL alters USER(), the session's
// own account including its host part.
func AlterPasswordStatement(c Credentials) (string, error) {
	switch c.Engine {
	case EnginePostgres:
		return fmt.Sprintf("ALTER USER %s WITH PASSWORD %s", pq.QuoteIdentifier(c.Username), pq.QuoteLiteral(c.Password)), nil
	case EngineMySQL:
		return fmt.Sprintf("ALTER USER USER() IDENTIFIED BY %s", mysqlLiteral(c.Password)), nil
	default:
		return "", fmt.Errorf("unsupported database engine: %q", c.Engine)
	}
}

func mysqlLiteral(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\x00", `\0`, "\n", `\n`, "\r", `\r`, "\x1a", `\Z`)
	return "'" + r.Replace(s) + "'"
}
