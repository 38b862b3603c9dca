// Package migrations embeds the IMS database schema migrations and the
// runner that applies them. The server applies pending migrations at
// startup, and cmd/migrator drives the same runner from the command line.
package migrations

import (
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filenames follow 001_migration_name.up.sql / .down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// ErrNoMigrations is returned when the embedded filesystem holds no
// migration files at all, which means the binary was built wrong.
var ErrNoMigrations = errors.New("no embedded migration files found")

type (
	// Catalog is the set of embedded migration scripts plus integrity
	// checks over them: filename format, up/down pairing, a gapless
	// sequence from 001, and content checksums that detect modification
	// between validation passes.
	Catalog struct {
		fs        fs.FS
		checksums map[string]string // filename -> SHA-256, filled by Validate
	}

	// script is one parsed migration filename.
	script struct {
		sequence  int
		name      string
		direction string
		filename  string
	}
)

// NewCatalog builds a catalog over the given filesystem; nil selects the
// migrations embedded in this binary.
func NewCatalog(filesystem fs.FS) *Catalog {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &Catalog{
		fs:        filesystem,
		checksums: make(map[string]string),
	}
}

// FS returns the migration source filesystem for the migrate driver.
func (c *Catalog) FS() fs.FS {
	return c.fs
}

// Files lists the migration filenames in apply order. Files not matching
// the naming standard are ignored so stray editor droppings cannot break
// a deployment.
func (c *Catalog) Files() ([]string, error) {
	entries, err := fs.ReadDir(c.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if !entry.IsDir() && migrationFilenameRegex.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	// Lexicographic order is apply order under the naming standard.
	slices.Sort(files)

	return files, nil
}

// MaxVersion returns the highest migration sequence number in the catalog.
func (c *Catalog) MaxVersion() int {
	files, err := c.Files()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, filename := range files {
		if s, err := parseScript(filename); err == nil && s.sequence > maxSequence {
			maxSequence = s.sequence
		}
	}

	return maxSequence
}

// Validate checks the whole catalog: every filename parses, every up has a
// down, sequences run 001..N without gaps, and (on revalidation) no file
// content changed since the previous pass.
func (c *Catalog) Validate() error {
	files, err := c.Files()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	scripts := make([]script, 0, len(files))
	checksums := make(map[string]string, len(files))

	for _, filename := range files {
		s, err := parseScript(filename)
		if err != nil {
			return err
		}

		scripts = append(scripts, s)

		content, err := fs.ReadFile(c.fs, filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		sum := sha256.Sum256(content)
		checksums[filename] = fmt.Sprintf("%x", sum)

		if previous, ok := c.checksums[filename]; ok && previous != checksums[filename] {
			return fmt.Errorf("checksum mismatch for %s: file has been modified", filename)
		}
	}

	if err := validatePairing(scripts); err != nil {
		return err
	}

	if err := validateSequence(scripts); err != nil {
		return err
	}

	c.checksums = checksums

	return nil
}

func parseScript(filename string) (script, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return script{}, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return script{}, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return script{
		sequence:  sequence,
		name:      matches[2],
		direction: matches[3],
		filename:  filename,
	}, nil
}

// validatePairing ensures every up migration has its down and vice versa.
func validatePairing(scripts []script) error {
	directions := make(map[string]map[string]bool)

	for _, s := range scripts {
		key := fmt.Sprintf("%03d_%s", s.sequence, s.name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][s.direction] = true
	}

	for key, seen := range directions {
		if !seen["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !seen["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures sequences start at 001 and have no gaps.
func validateSequence(scripts []script) error {
	present := make(map[int]bool)
	for _, s := range scripts {
		present[s.sequence] = true
	}

	sequences := make([]int, 0, len(present))
	for seq := range present {
		sequences = append(sequences, seq)
	}

	slices.Sort(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if expected := sequences[i-1] + 1; sequences[i] != expected {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d", expected, sequences[i])
		}
	}

	return nil
}
