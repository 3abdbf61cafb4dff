package db

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/convoke-dev/convoke/domain"
	"github.com/convoke-dev/convoke/util"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const (
	sqlInsertAccount = `INSERT INTO accounts(id, username, display_name, summary, avatar_url, header_url, display_color, auto_accept, web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectAccountFields     = `SELECT id, username, display_name, summary, avatar_url, header_url, display_color, auto_accept, web_public_key, web_private_key, created_at FROM accounts`
	sqlSelectAccountByUsername = sqlSelectAccountFields + ` WHERE username = ?`
	sqlSelectAccountById       = sqlSelectAccountFields + ` WHERE id = ?`

	sqlUpdateAccountProfile = `UPDATE accounts SET display_name = ?, summary = ?, avatar_url = ?, header_url = ?, display_color = ?, auto_accept = ? WHERE id = ?`
)

// Open opens a database at the given path and configures it for the
// concurrent federation workload. Tests pass ":memory:".
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if path == ":memory:" {
		// A pooled in-memory database would be one database per connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	// Try to enable WAL mode for concurrent readers
	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	return &DB{db: sqlDB}, nil
}

func GetDB() *DB {
	dbOnce.Do(func() {
		database, err := Open(util.ResolveFilePath("database.db"))
		if err != nil {
			panic(err)
		}

		dbInstance = database

		if err := dbInstance.RunMigrations(); err != nil {
			panic(err)
		}
	})

	return dbInstance
}

// CreateAccount creates a local account with a fresh RSA keypair for
// federation signing.
func (db *DB) CreateAccount(username string, autoAccept bool) (error, *domain.Account) {
	keypair := util.GeneratePemKeypair()

	acc := &domain.Account{
		Id:            uuid.New(),
		Username:      username,
		AutoAccept:    autoAccept,
		WebPublicKey:  keypair.Public,
		WebPrivateKey: keypair.Private,
		CreatedAt:     time.Now(),
	}

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.DisplayName,
			acc.Summary,
			acc.AvatarURL,
			acc.HeaderURL,
			acc.DisplayColor,
			acc.AutoAccept,
			acc.WebPublicKey,
			acc.WebPrivateKey,
			acc.CreatedAt,
		)
		return err
	})
	if err != nil {
		return err, nil
	}
	return nil, acc
}

func (db *DB) ReadAccByUsername(username string) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountByUsername, username))
}

func (db *DB) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountById, id.String()))
}

func (db *DB) scanAccount(row *sql.Row) (error, *domain.Account) {
	var acc domain.Account
	var idStr string
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.DisplayName,
		&acc.Summary,
		&acc.AvatarURL,
		&acc.HeaderURL,
		&acc.DisplayColor,
		&acc.AutoAccept,
		&acc.WebPublicKey,
		&acc.WebPrivateKey,
		&acc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

func (db *DB) UpdateAccountProfile(acc *domain.Account) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateAccountProfile,
			acc.DisplayName,
			acc.Summary,
			acc.AvatarURL,
			acc.HeaderURL,
			acc.DisplayColor,
			acc.AutoAccept,
			acc.Id.String(),
		)
		return err
	})
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// ErrDuplicate is returned by inserts that hit a unique constraint, so
// callers can distinguish an already-cached row from a real fault.
var ErrDuplicate = errors.New("db: row already exists")

// isConstraintErr reports whether err is a sqlite unique/constraint
// violation, including extended result codes.
func isConstraintErr(err error) bool {
	serr, ok := err.(*sqlite.Error)
	return ok && serr.Code()&0xff == sqlitelib.SQLITE_CONSTRAINT
}

// nullIfEmpty maps empty strings to NULL so UNIQUE columns like
// external_uri stay multi-NULL for local rows.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
