// Package export writes run results to disk as JSON or CSV. Output is
// deterministic for a fixed result: records arrive pre-sorted and encoding
// preserves field order.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/stacktools/teams-harvester/pkg/aggregate"
	"github.com/stacktools/teams-harvester/pkg/models"
	"github.com/stacktools/teams-harvester/pkg/timewindow"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// FileName derives the output file name from the run mode and window, e.g.
// subjects_2025-01-01_to_2025-03-31.json or content_all.csv.
func FileName(mode aggregate.Mode, window timewindow.Window, format Format) string {
	prefix := "subjects"
	if mode == aggregate.ModeContent {
		prefix = "content"
	}
	return fmt.Sprintf("%s_%s.%s", prefix, window.String(), format)
}

// WriteJSON writes the full result, summary included, as indented JSON.
func WriteJSON(path string, result *aggregate.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("records", result.Summary.Processed).
		Msg("Wrote JSON output")
	return nil
}

// csvHeader is the content-mode column set, in output order.
var csvHeader = []string{
	"question_id",
	"title",
	"tags",
	"creation_date",
	"score",
	"view_count",
	"answer_count",
	"is_answered",
	"has_accepted_answer",
	"owner_id",
	"owner_name",
	"owner_reputation",
	"owner_is_sme",
	"accepted_answer_id",
	"accepted_answer_score",
	"accepted_answer_owner_id",
	"accepted_answer_owner_name",
}

// WriteCSV writes content-mode records as CSV. Only the flat question and
// owner columns are exported; subject-mode results are too nested for CSV.
func WriteCSV(path string, records []models.ContentRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.QuestionID, 10),
			rec.Title,
			strings.Join(rec.Tags, ";"),
			strconv.FormatInt(rec.CreationDate, 10),
			strconv.Itoa(rec.Score),
			strconv.Itoa(rec.ViewCount),
			strconv.Itoa(rec.AnswerCount),
			strconv.FormatBool(rec.IsAnswered),
			strconv.FormatBool(rec.HasAcceptedAnswer),
			strconv.FormatInt(rec.Owner.ID, 10),
			rec.Owner.Name,
			strconv.Itoa(rec.Owner.Reputation),
			strconv.FormatBool(rec.Owner.IsSME),
			"", "", "", "",
		}
		if aa := rec.AcceptedAnswer; aa != nil {
			row[13] = strconv.FormatInt(aa.AnswerID, 10)
			row[14] = strconv.Itoa(aa.Score)
			row[15] = strconv.FormatInt(aa.Owner.ID, 10)
			row[16] = aa.Owner.Name
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("records", len(records)).
		Msg("Wrote CSV output")
	return nil
}

// Write encodes the result in the requested format under dir. An explicit
// file name overrides the generated one. Returns the written path.
func Write(dir, file string, format Format, mode aggregate.Mode, window timewindow.Window, result *aggregate.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	name := file
	if name == "" {
		name = FileName(mode, window, format)
	}
	path := filepath.Join(dir, name)

	switch format {
	case FormatCSV:
		if mode != aggregate.ModeContent {
			return "", fmt.Errorf("csv output requires content mode")
		}
		return path, WriteCSV(path, result.Content)
	default:
		return path, WriteJSON(path, result)
	}
}
