package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

const (
	NotebookExtension = ".ipynb"
	CodeCellType      = "code"
)

var (
	ErrNoSource        = errors.New("no code to run")
	ErrInvalidNotebook = errors.New("invalid notebook")
)

// Notebook is the subset of the nbformat 4 document that the runner reads.
type Notebook struct {
	Cells         []NotebookCell `json:"cells"`
	NbFormat      int            `json:"nbformat"`
	NbFormatMinor int            `json:"nbformat_minor"`
}

type NotebookCell struct {
	CellType string          `json:"cell_type"`
	Source   MultilineString `json:"source"`
}

// MultilineString is an nbformat string, stored either as one string or as a list of lines.
type MultilineString string

func (s *MultilineString) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = MultilineString(single)
		return nil
	}

	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("source must be a string or a list of strings: %w", err)
	}

	*s = MultilineString(strings.Join(lines, ""))
	return nil
}

// LoadSource returns the cells to run: the inline code as a single cell, or else the contents of
// file. A notebook yields its non-empty code cells in order, any other file a single cell.
func LoadSource(code string, file string) ([]string, error) {
	if code != "" {
		return []string{code}, nil
	}

	if file == "" {
		return nil, ErrNoSource
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(file), NotebookExtension) {
		return ParseNotebook(data)
	}

	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("%w: \"%s\" is empty", ErrNoSource, file)
	}

	return []string{string(data)}, nil
}

// ParseNotebook returns the non-empty code cells of an .ipynb document.
func ParseNotebook(data []byte) ([]string, error) {
	var notebook Notebook
	if err := json.Unmarshal(data, &notebook); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNotebook, err)
	}

	if notebook.NbFormat != 0 && notebook.NbFormat < 4 {
		return nil, fmt.Errorf("%w: nbformat %d is not supported", ErrInvalidNotebook, notebook.NbFormat)
	}

	cells := make([]string, 0, len(notebook.Cells))
	for _, cell := range notebook.Cells {
		if cell.CellType != CodeCellType || strings.TrimSpace(string(cell.Source)) == "" {
			continue
		}
		cells = append(cells, string(cell.Source))
	}

	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: notebook has no code cells", ErrNoSource)
	}

	return cells, nil
}
