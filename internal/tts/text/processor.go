// Package text converts raw request text into the tensor inputs the
// pretrained model expects.
//
// The processor mirrors the tokenization contract published alongside the
// model: Unicode NFKC normalization, whitespace collapsing, then a
// codepoint-to-ID lookup through the hub-provided indexer table.
package text

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// UnknownTokenID is the ID assigned to runes absent from the indexer table.
const UnknownTokenID = -1

const whitespaceRegexPattern = `\s+`

// Static errors.
var (
	ErrTextEmpty        = errors.New("text cannot be empty")
	ErrTextTooLong      = errors.New("text exceeds maximum length")
	ErrIndexerEmpty     = errors.New("indexer table cannot be empty")
	ErrTemperatureRange = errors.New("temperature must be between 0.0 and 2.0")
)

// Temperature bounds accepted by the API.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Processor converts text into model token IDs.
type Processor struct {
	indexer           []int64
	whitespacePattern *regexp.Regexp
}

// NewProcessor creates a processor backed by the given codepoint indexer
// table. The table maps a rune's codepoint to its token ID; runes beyond the
// table map to UnknownTokenID.
func NewProcessor(indexer []int64) (*Processor, error) {
	if len(indexer) == 0 {
		return nil, ErrIndexerEmpty
	}

	return &Processor{
		indexer:           indexer,
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
	}, nil
}

// NewProcessorFromJSON creates a processor from the raw indexer artifact as
// downloaded from the model hub (a JSON array of token IDs).
func NewProcessorFromJSON(data []byte) (*Processor, error) {
	var indexer []int64

	err := json.Unmarshal(data, &indexer)
	if err != nil {
		return nil, fmt.Errorf("failed to parse indexer artifact: %w", err)
	}

	return NewProcessor(indexer)
}

// Normalize applies NFKC normalization and collapses runs of whitespace into
// single spaces. The result is what gets tokenized and echoed in responses.
func (p *Processor) Normalize(text string) string {
	normalized := norm.NFKC.String(text)
	normalized = p.whitespacePattern.ReplaceAllString(normalized, " ")

	return strings.TrimSpace(normalized)
}

// Encode normalizes text and converts it to a row of token IDs.
func (p *Processor) Encode(text string) []int64 {
	normalized := p.Normalize(text)
	runes := []rune(normalized)
	tokenIDs := make([]int64, len(runes))

	for i, r := range runes {
		codepoint := int(r)
		if codepoint < len(p.indexer) {
			tokenIDs[i] = p.indexer[codepoint]
		} else {
			tokenIDs[i] = UnknownTokenID
		}
	}

	return tokenIDs
}

// ValidateText enforces the request contract: non-empty after normalization
// and at most maxLength characters, counted in runes so multi-byte input is
// not penalized.
func ValidateText(text string, maxLength int) error {
	if strings.TrimSpace(text) == "" {
		return ErrTextEmpty
	}

	if utf8.RuneCountInString(text) > maxLength {
		return fmt.Errorf("%w: got %d characters, limit %d",
			ErrTextTooLong, utf8.RuneCountInString(text), maxLength)
	}

	return nil
}

// ValidateTemperature enforces the generation temperature bounds.
func ValidateTemperature(temperature float64) error {
	if temperature < MinTemperature || temperature > MaxTemperature {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, temperature)
	}

	return nil
}
