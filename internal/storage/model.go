package storage

import (
	"fmt"
	"strings"

	"github.com/louisbranch/bookshelf/internal/platform/storage/sqlitemigrate"
)

// Model describes one table owned by a plugin.
//
// Migration holds a `-- +migrate Up` section creating the table and an
// optional `-- +migrate Down` section dropping it.
type Model struct {
	Name      string
	Table     string
	Migration string
}

// Validate reports whether the model can be migrated.
func (m Model) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("model name is required")
	}
	if strings.TrimSpace(m.Table) == "" {
		return fmt.Errorf("model %s: table is required", m.Name)
	}
	if strings.TrimSpace(sqlitemigrate.ExtractUpMigration(m.Migration)) == "" {
		return fmt.Errorf("model %s: migration is required", m.Name)
	}
	return nil
}

func (m Model) migration() sqlitemigrate.Migration {
	return sqlitemigrate.Migration{Name: "model/" + m.Name, Script: m.Migration}
}

func migrations(models []Model) ([]sqlitemigrate.Migration, error) {
	out := make([]sqlitemigrate.Migration, 0, len(models))
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		out = append(out, m.migration())
	}
	return out, nil
}
