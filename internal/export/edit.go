package export

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/CZERTAINLY/Exporter/internal/batch"

	"github.com/peterh/liner"
)

const editTitle = "Edit Output Path"

// Prompter asks the user for a single line. ok is false when the user
// aborted the prompt.
type Prompter interface {
	Prompt(title, initial string) (value string, ok bool, err error)
}

// OutputPathEditor is the part of document.Document EditOutputPath changes.
type OutputPathEditor interface {
	OutputPath() string
	SetOutputPath(value string) error
}

// EditOutputPath asks for a new output path, pre-filled with the current one,
// and stores the answer in doc. Aborting the prompt leaves doc untouched.
func EditOutputPath(doc OutputPathEditor, prompter Prompter, reporter batch.Reporter) error {
	value, ok, err := prompter.Prompt(editTitle, doc.OutputPath())
	if err != nil {
		return fmt.Errorf("reading output path: %w", err)
	}
	if !ok {
		slog.Debug("output path edit aborted")
		return nil
	}
	if err := doc.SetOutputPath(value); err != nil {
		return fmt.Errorf("storing output path: %w", err)
	}
	if reporter != nil {
		reporter.Display(fmt.Sprintf("Output path updated to %q", value), messageTimeout)
	}
	return nil
}

// LinerPrompter reads the answer from the terminal with line editing.
type LinerPrompter struct{}

func (LinerPrompter) Prompt(title, initial string) (string, bool, error) {
	line := liner.NewLiner()
	defer func() {
		_ = line.Close()
	}()
	line.SetCtrlCAborts(true)

	value, err := line.PromptWithSuggestion(title+": ", initial, -1)
	switch {
	case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return value, true, nil
}
