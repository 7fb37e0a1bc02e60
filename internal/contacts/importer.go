// Package contacts imports contacts from CSV files.
package contacts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/domain/repositories"
)

// Stats counts the rows of one import.
type Stats struct {
	Total     int
	Imported  int
	Invalid   int
	Duplicate int
}

// Importer reads contacts from CSV with a header row naming the contact
// fields (company, firstname, lastname, phone, email, salutation, title,
// role). Unknown columns are ignored.
type Importer struct {
	repo   repositories.ContactRepository
	region string
	logger *zap.Logger
}

func NewImporter(repo repositories.ContactRepository, defaultRegion string, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{repo: repo, region: defaultRegion, logger: logger}
}

// Import stores every valid row. Invalid rows and duplicates are logged and
// skipped; only unreadable input or a failing repository aborts the import.
func (i *Importer) Import(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return stats, fmt.Errorf("read header: %w", err)
	}
	for idx := range header {
		header[idx] = strings.ToLower(strings.TrimSpace(header[idx]))
	}
	if !contains(header, "phone") {
		return stats, errors.New("CSV header has no phone column")
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		stats.Total++

		row := make(map[string]string, len(header))
		for idx, value := range record {
			if idx < len(header) {
				row[header[idx]] = strings.TrimSpace(value)
			}
		}
		contact := entities.ContactFromFields(row)
		if err := contact.Normalize(i.region); err != nil {
			i.logger.Error("Invalid contact", zap.Int("line", line), zap.Error(err))
			stats.Invalid++
			continue
		}

		err = i.repo.Create(ctx, contact)
		switch {
		case err == nil:
			stats.Imported++
		case errors.Is(err, repositories.ErrDuplicateContact):
			i.logger.Warn("Contact already exists", zap.Int("line", line), zap.String("phone", contact.Phone))
			stats.Duplicate++
		default:
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
	}

	i.logger.Info("Contacts imported",
		zap.Int("imported", stats.Imported),
		zap.Int("total", stats.Total),
		zap.Int("invalid", stats.Invalid),
		zap.Int("duplicate", stats.Duplicate))
	return stats, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
