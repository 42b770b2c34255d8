// Package ledger persists the canonical user records and the append-only
// login ledger in a sqlite database.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/ledger/migrations"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

type (
	Store struct {
		db        *sqlx.DB
		writeable bool
		now       func() time.Time
	}

	gooseLogger struct {
		log zerolog.Logger
	}
)

const (
	userColumns  = `user_id, username, email, password_hash, provider, provider_subject, signup_date`
	eventColumns = `event_id, email, username, provider, action, created_at`
)

func openLedgerDatabase(ctx context.Context, file string, readwrite bool) (*sqlx.DB, error) {
	if readwrite {
		err := os.MkdirAll(filepath.Dir(file), 0755)
		if err != nil {
			return nil, fmt.Errorf("unable to create directory to store ledger %v, cause %w", file, err)
		}
	}
	var connstr string
	if readwrite {
		connstr = fmt.Sprintf("file:%v?_journal=wal&_busy_timeout=5000&mode=rwc", file)
	} else {
		connstr = fmt.Sprintf("file:%v?mode=ro", file)
	}
	conn, err := sqlx.Open("sqlite3", connstr)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v, cause %w", file, err)
	}
	err = conn.PingContext(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to ping ledger %v, cause %w", file, err)
	}
	return conn, nil
}

// Open loads the ledger stored at file. Writable ledgers are migrated to
// the latest schema before being returned.
func Open(ctx context.Context, file string, readwrite bool) (*Store, error) {
	conn, err := openLedgerDatabase(ctx, file, readwrite)
	if err != nil {
		return nil, err
	}
	s := &Store{db: conn, writeable: readwrite, now: time.Now}
	if readwrite {
		err = s.migrate(ctx)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("unable to init ledger %v, cause %w", file, err)
		}
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(gooseLogger{log: logutil.GetOrDefault(ctx).With().Str("component", "migrations").Logger()})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db.DB, ".")
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `select `+userColumns+` from users where email_hash64 = ? and email = ?`, emailHash(email), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, UserNotFound{Key: email}
	} else if err != nil {
		return nil, fmt.Errorf("unable to lookup user by email %v, cause %w", email, err)
	}
	return &u, nil
}

// FindByUsername returns the first account registered with the given
// username. Usernames of federated accounts are display names and may
// repeat, local accounts win over federated ones.
func (s *Store) FindByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `select `+userColumns+` from users where username = ?
		order by case provider when 'local' then 0 else 1 end, signup_date asc limit 1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, UserNotFound{Key: username}
	} else if err != nil {
		return nil, fmt.Errorf("unable to lookup user by username %v, cause %w", username, err)
	}
	return &u, nil
}

// FindByUsernameOrEmail returns any account that collides with either the
// username or the email.
func (s *Store) FindByUsernameOrEmail(ctx context.Context, username, email string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `select `+userColumns+` from users
		where (email_hash64 = ? and email = ?) or username = ? limit 1`, emailHash(email), email, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, UserNotFound{Key: fmt.Sprintf("%v/%v", username, email)}
	} else if err != nil {
		return nil, fmt.Errorf("unable to lookup user %v/%v, cause %w", username, email, err)
	}
	return &u, nil
}

// CreateUser persists u. ID and SignupDate are filled when empty.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.SignupDate.IsZero() {
		u.SignupDate = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `insert into users(user_id, username, email, email_hash64, password_hash, provider, provider_subject, signup_date)
		values (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, emailHash(u.Email), u.PasswordHash, string(u.Provider), u.ProviderSubject, u.SignupDate)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return UserExists{Email: u.Email, Username: u.Username}
	} else if err != nil {
		return fmt.Errorf("unable to store user %v, cause %w", u.Email, err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	out := []User{}
	err := s.db.SelectContext(ctx, &out, `select `+userColumns+` from users order by signup_date asc`)
	if err != nil {
		return nil, fmt.Errorf("unable to list users, cause %w", err)
	}
	return out, nil
}

// AppendEvent adds ev to the ledger. Timestamp is set when empty.
func (s *Store) AppendEvent(ctx context.Context, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `insert into login_events(email, username, provider, action, created_at)
		values (?, ?, ?, ?, ?) returning event_id`,
		ev.Email, ev.Username, string(ev.Provider), string(ev.Action), ev.Timestamp).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("unable to append %v event for %v, cause %w", ev.Action, ev.Email, err)
	}
	return nil
}

// ListEvents returns the most recent events in insertion order. A limit
// lower than 1 returns the whole ledger.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	out := []Event{}
	if limit < 1 {
		err := s.db.SelectContext(ctx, &out, `select `+eventColumns+` from login_events order by event_id asc`)
		if err != nil {
			return nil, fmt.Errorf("unable to list login events, cause %w", err)
		}
		return out, nil
	}
	err := s.db.SelectContext(ctx, &out, `select `+eventColumns+` from login_events order by event_id desc limit ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to list login events, cause %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) CountEvents(ctx context.Context, email string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `select count(*) from login_events where email = ?`, email)
	if err != nil {
		return 0, fmt.Errorf("unable to count events for %v, cause %w", email, err)
	}
	return n, nil
}

func (s *Store) Writeable() bool {
	return s.writeable
}

func (s *Store) Close() error {
	return s.db.Close()
}

func emailHash(email string) int64 {
	return int64(xxhash.Sum64String(strings.ToLower(email)))
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Error().Msgf(strings.TrimSpace(format), v...)
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Debug().Msgf(strings.TrimSpace(format), v...)
}
