// Package importer loads cards in bulk from JSON Lines files.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wordcards/cardsync/internal/learning"
	"github.com/wordcards/cardsync/internal/schema"
)

// CardLine is one line of an import file.
//
//	{"text":"apple","source":"en","target":"fr","translation":"pomme","favorite":true,"categories":["food"]}
type CardLine struct {
	Text         string   `json:"text"`
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	Translation  string   `json:"translation,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Example      string   `json:"example,omitempty"`
	Favorite     bool     `json:"favorite,omitempty"`
	Categories   []string `json:"categories,omitempty"`
}

// Options controls an import.
type Options struct {
	// DefaultSource and DefaultTarget fill in missing languages.
	DefaultSource string
	DefaultTarget string

	// DryRun parses and validates without writing.
	DryRun bool
}

// Result contains statistics about an import.
type Result struct {
	Imported int
	Existing int
	Invalid  int
	Errors   []string
}

// Adder is the part of learning.Service the importer needs.
type Adder interface {
	Add(ctx context.Context, req learning.AddRequest) (*learning.Card, error)
}

// ImportFile imports every card of the file at path.
func ImportFile(ctx context.Context, svc Adder, path string, opts Options) (*Result, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()
	return Import(ctx, svc, f, opts)
}

// Import reads one card per line. Blank lines are ignored; lines that fail
// to parse or validate are counted in Invalid and described in Errors
// without stopping the import. Storage failures stop it.
func Import(ctx context.Context, svc Adder, r io.Reader, opts Options) (*Result, error) {
	result := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if err := ctx.Err(); err != nil {
			return result, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		req, err := parseLine(line, opts)
		if err != nil {
			result.Invalid++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}
		if opts.DryRun {
			result.Imported++
			continue
		}

		_, err = svc.Add(ctx, req)
		switch {
		case err == nil:
			result.Imported++
		case errors.Is(err, learning.ErrExists):
			result.Existing++
		default:
			return result, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read import file: %w", err)
	}
	return result, nil
}

func parseLine(line string, opts Options) (learning.AddRequest, error) {
	var card CardLine
	if err := json.Unmarshal([]byte(line), &card); err != nil {
		return learning.AddRequest{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if card.Source == "" {
		card.Source = opts.DefaultSource
	}
	if card.Target == "" {
		card.Target = opts.DefaultTarget
	}

	key := schema.NewKey(card.Text, card.Source, card.Target)
	if err := key.Validate(); err != nil {
		return learning.AddRequest{}, err
	}
	return learning.AddRequest{
		Key:          key,
		Translation:  card.Translation,
		Alternatives: card.Alternatives,
		Example:      card.Example,
		Favorite:     card.Favorite,
		Categories:   card.Categories,
	}, nil
}
