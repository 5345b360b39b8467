package sqlsource

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Fixed driver tuning for many short-lived connections against a small
// schema.
const (
	statementCacheCapacity = 250
	statementCacheSQLLimit = 2048
	clientEncoding         = "UTF8"
)

const defaultDialKeepAlive = 5 * time.Minute

// newPoolWithConfig and connectConfig are package-private seams used by
// tests to force deterministic failures without network dependencies.
var (
	newPoolWithConfig = pgxpool.NewWithConfig
	connectConfig     = pgx.ConnectConfig
)

var connValueEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteConnValue(v string) string {
	return "'" + connValueEscaper.Replace(v) + "'"
}

// envNeutralKeywords pins every parse-time setting the libpq PG* environment
// could otherwise supply. Explicit keywords win over the environment.
const envNeutralKeywords = "connect_timeout=0 target_session_attrs=any" +
	" sslrootcert='' sslcert='' sslkey='' sslpassword='' sslsni=1" +
	" sslnegotiation=postgres krbsrvname='' krbspn=''"

// connString carries only what pgx must see at parse time: the host and
// port, so TLS is configured for them, and the sslmode. Credentials are
// assigned afterwards and never pass through the parser.
func (s *Source) connString() string {
	sslmode := "disable"
	if s.useSSL {
		sslmode = "require"
	}
	// The parser rejects port 0; applyTuning assigns the real port anyway.
	port := s.port
	if port == 0 {
		port = 5432
	}
	return "host=" + quoteConnValue(s.address) +
		" port=" + strconv.Itoa(port) +
		" sslmode=" + sslmode +
		" " + envNeutralKeywords
}

func (s *Source) applyTuning(cc *pgx.ConnConfig) {
	cc.Host = s.address
	cc.Port = uint16(s.port)
	cc.User = s.username
	cc.Password = s.password
	cc.Database = s.database
	cc.Fallbacks = nil
	cc.ConnectTimeout = 0
	cc.ValidateConnect = nil

	// Replaced rather than merged: the parser copies PGTZ, PGOPTIONS and
	// PGAPPNAME in here.
	cc.RuntimeParams = map[string]string{"client_encoding": clientEncoding}
	if s.poolName != "" {
		cc.RuntimeParams["application_name"] = s.poolName
	}
	if s.hasTimeZone {
		cc.RuntimeParams["timezone"] = s.timeZone
	}

	cc.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	cc.StatementCacheCapacity = statementCacheCapacity
	cc.DescriptionCacheCapacity = statementCacheCapacity
	cc.Tracer = nil
	cc.DialFunc = dialNoDelay(nil)
}

func dialNoDelay(dial pgconn.DialFunc) pgconn.DialFunc {
	if dial == nil {
		dial = (&net.Dialer{KeepAlive: defaultDialKeepAlive}).DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		return conn, nil
	}
}

// connConfig builds the raw driver configuration.
func (s *Source) connConfig() (*pgx.ConnConfig, error) {
	cc, err := pgx.ParseConfig(s.connString())
	if err != nil {
		return nil, &SafeError{
			msg:   fmt.Sprintf("sqlsource: invalid driver config (pool=%s)", s.poolName),
			cause: err,
		}
	}

	s.applyTuning(cc)
	if s.opts.connConfigModifier != nil {
		s.opts.connConfigModifier(cc)
	}
	return cc, nil
}

// poolConfig builds the raw driver configuration wrapped in pool settings.
func (s *Source) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(s.connString())
	if err != nil {
		return nil, &SafeError{
			msg:   fmt.Sprintf("sqlsource: invalid pool config (pool=%s)", s.poolName),
			cause: err,
		}
	}

	s.applyTuning(pc.ConnConfig)
	if s.opts.connConfigModifier != nil {
		s.opts.connConfigModifier(pc.ConnConfig)
	}

	// The pool may shrink to empty when idle.
	pc.MinConns = 0
	pc.MaxConns = s.settings.MaxPoolSize
	pc.MaxConnIdleTime = s.settings.IdleTimeout

	if s.opts.poolConfigModifier != nil {
		s.opts.poolConfigModifier(pc)
	}
	return pc, nil
}
