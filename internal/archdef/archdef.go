// Package archdef validates the architecture-configuration document and the
// datasets named by a submission before any trial is launched.
//
// The trial executable owns the full interpretation of these artifacts; this
// package only enforces the envelope every trial expects, so a bad submission
// fails once at submit time instead of K times on the grid.
package archdef

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ubuntu/decorate"
	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation is returned when the architecture document does not match
// the expected envelope.
var ErrSchemaViolation = errors.New("architecture document violates schema")

// schema is the envelope an architecture document must satisfy. Anything
// beyond it is opaque payload for the trial executable.
const schema = `{
	"type": "object",
	"required": ["layers"],
	"properties": {
		"cell_type": {
			"type": "string",
			"enum": ["rnn", "lstm", "gru"]
		},
		"layers": {
			"type": "array",
			"items": {"type": "integer", "minimum": 1},
			"minItems": 1
		},
		"look_back": {"type": "integer", "minimum": 1},
		"dropout": {"type": "number", "minimum": 0, "maximum": 1},
		"epochs": {"type": "integer", "minimum": 1}
	}
}`

// Definition is the validated part of an architecture document.
type Definition struct {
	CellType string `json:"cell_type"`
	Layers   []int  `json:"layers"`
	LookBack int    `json:"look_back"`
}

// Load reads and validates the architecture document at path.
func Load(path string) (def Definition, err error) {
	defer decorate.OnError(&err, "could not load architecture document %s:", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return Definition{}, fmt.Errorf("document is not valid JSON: %v", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return Definition{}, fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(details, "; "))
	}

	if err := json.Unmarshal(data, &def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// ValidateDataset checks that the delimited dataset at path is readable and
// rectangular. The values themselves are opaque and deliberately unchecked.
func ValidateDataset(path string) (err error) {
	defer decorate.OnError(&err, "invalid dataset %s:", path)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	rows := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rows++
	}
	if rows == 0 {
		return errors.New("dataset is empty")
	}

	return nil
}
