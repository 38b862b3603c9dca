package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	// Registers the postgres driver with database/sql.
	_ "github.com/lib/pq"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

const dmsConnectTimeout = 10 * time.Second

// Membership statuses whose holders may log in. Other statuses still
// resolve for display (journal authors, ranger assignment) but are
// marked disabled.
var allowedLoginStatuses = map[string]struct{}{
	"active":             {},
	"inactive":           {},
	"inactive extension": {},
	"auditor":            {},
}

// Compile-time interface verification.
var _ Provider = (*DMS)(nil)

// DMS is a Provider backed by the Ranger duty management system's
// relational database. All access is read-only; IMS never writes
// personnel records.
type DMS struct {
	db *sql.DB
}

// NewDMS opens a read-only connection pool to the duty management system
// and verifies it with a ping. The caller owns the pool and must Close it.
func NewDMS(config *Config) (*DMS, error) {
	if config == nil || config.dmsURL == "" {
		return nil, ErrDMSURLEmpty
	}

	db, err := sql.Open("postgres", config.dmsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open DMS database: %w", err)
	}

	// The directory is read on a refresh interval, not per request, so a
	// small pool is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), dmsConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping DMS database %s: %w", config.MaskDMSURL(), err)
	}

	return &DMS{db: db}, nil
}

// Personnel implements Provider. It loads every person row plus position
// membership in two queries.
func (d *DMS) Personnel(ctx context.Context) ([]ims.Ranger, error) {
	positions, err := d.positionsByPerson(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, callsign, email, status, on_site, password
		FROM person
		ORDER BY callsign
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query personnel: %w", ErrUnavailable, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var rangers []ims.Ranger

	for rows.Next() {
		var (
			id       int64
			email    sql.NullString
			password sql.NullString
			ranger   ims.Ranger
		)

		err = rows.Scan(&id, &ranger.Handle, &email, &ranger.Status, &ranger.Onsite, &password)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person row: %w", err)
		}

		ranger.DirectoryID = strconv.FormatInt(id, 10)
		ranger.Password = password.String
		ranger.Groups = positions[id]

		if email.Valid && email.String != "" {
			ranger.Email = []string{email.String}
		}

		_, ranger.Enabled = allowedLoginStatuses[ranger.Status]

		rangers = append(rangers, ranger)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate person rows: %w", err)
	}

	return rangers, nil
}

// LookupUser implements Provider.
func (d *DMS) LookupUser(ctx context.Context, searchTerm string) (*ims.Ranger, error) {
	rangers, err := d.Personnel(ctx)
	if err != nil {
		return nil, err
	}

	return lookupIn(rangers, searchTerm)
}

// Close closes the underlying connection pool.
func (d *DMS) Close() error {
	if d == nil || d.db == nil {
		return nil
	}

	return d.db.Close()
}

func (d *DMS) positionsByPerson(ctx context.Context) (map[int64][]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT pp.person_id, p.title
		FROM person_position pp
		JOIN position p ON p.id = pp.position_id
		ORDER BY pp.person_id, p.title
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query position membership: %w", ErrUnavailable, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	positions := make(map[int64][]string)

	for rows.Next() {
		var (
			personID int64
			title    string
		)

		if err := rows.Scan(&personID, &title); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}

		positions[personID] = append(positions[personID], title)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate position rows: %w", err)
	}

	return positions, nil
}
