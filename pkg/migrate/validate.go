package migrate

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

const (
	upMarker    = "-- +goose Up"
	downMarker  = "-- +goose Down"
	beginMarker = "-- +goose StatementBegin"
	endMarker   = "-- +goose StatementEnd"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

// Validate checks filenames and goose annotations for every migration in fsys.
// An empty set is accepted.
func Validate(fsys fs.FS) error {
	if fsys == nil {
		return fmt.Errorf("migrations fs is required")
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	versions := map[string]string{}
	names := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		file := e.Name()
		m := sqlFileRe.FindStringSubmatch(file)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", file)
		}
		if prev, ok := versions[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, file)
		}
		versions[m[1]] = file
		if prev, ok := names[m[2]]; ok {
			return fmt.Errorf("duplicate migration name %q in %q and %q", m[2], prev, file)
		}
		names[m[2]] = file

		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("read %q: %w", file, err)
		}
		if err := checkAnnotations(string(data)); err != nil {
			return fmt.Errorf("migration %q: %w", file, err)
		}
	}
	return nil
}

func checkAnnotations(sql string) error {
	up := strings.Index(sql, upMarker)
	if up < 0 {
		return fmt.Errorf("missing %q", upMarker)
	}
	down := strings.Index(sql, downMarker)
	if down < 0 {
		return fmt.Errorf("missing %q", downMarker)
	}
	if down < up {
		return fmt.Errorf("%q must come after %q", downMarker, upMarker)
	}

	open := false
	for i, line := range strings.Split(sql, "\n") {
		switch strings.TrimSpace(line) {
		case beginMarker:
			if open {
				return fmt.Errorf("line %d: nested StatementBegin", i+1)
			}
			open = true
		case endMarker:
			if !open {
				return fmt.Errorf("line %d: StatementEnd without StatementBegin", i+1)
			}
			open = false
		case upMarker, downMarker:
			if open {
				return fmt.Errorf("line %d: section starts inside an open statement", i+1)
			}
		}
	}
	if open {
		return fmt.Errorf("unterminated StatementBegin")
	}
	return nil
}
