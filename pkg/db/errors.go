package db

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// Server error codes for duplicate keys
const (
	mysqlDuplicateEntry = 1062
	pgUniqueViolation   = "23505"
)

var (
	// "Duplicate entry 'x' for key 'contacts.uq_contacts_email'"
	mysqlKeyPattern = regexp.MustCompile(`for key '([^']+)'`)
	// "Key (email)=(x) already exists."
	pgKeyPattern = regexp.MustCompile(`^Key \(([^)]+)\)=`)
)

// classify turns a duplicate-key failure into *storage.UniqueViolation and
// returns every other error unchanged. keys maps key names of table to their
// columns.
func classify(table string, keys map[string][]string, err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		var cols []string
		if m := mysqlKeyPattern.FindStringSubmatch(myErr.Message); m != nil {
			key := m[1]
			// MySQL 8 prefixes the key with its table
			if i := strings.LastIndexByte(key, '.'); i >= 0 {
				key = key[i+1:]
			}
			cols = keyColumns(keys, key)
		}
		return &storage.UniqueViolation{Table: table, Columns: cols, Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		cols := keyColumns(keys, pgErr.ConstraintName)
		if cols == nil {
			if m := pgKeyPattern.FindStringSubmatch(pgErr.Detail); m != nil {
				for _, c := range strings.Split(m[1], ",") {
					cols = append(cols, strings.Trim(strings.TrimSpace(c), `"`))
				}
			}
		}
		t := table
		if pgErr.TableName != "" {
			t = pgErr.TableName
		}
		return &storage.UniqueViolation{Table: t, Columns: cols, Err: err}
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &storage.UniqueViolation{Table: table, Err: err}
	}
	return err
}

func keyColumns(keys map[string][]string, key string) []string {
	if key == "" {
		return nil
	}
	if key == "PRIMARY" || strings.HasSuffix(key, "_pkey") {
		return []string{schema.IDField}
	}
	if cols, ok := keys[key]; ok {
		return append([]string(nil), cols...)
	}
	return nil
}
