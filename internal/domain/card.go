package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type CardStatus string

const (
	CardStatusConnected    CardStatus = "connected"
	CardStatusDisconnected CardStatus = "disconnected"
)

type CardType string

const (
	CardTypeSymbol CardType = "symbol"
	CardTypeGroup  CardType = "group"
)

// Position is a zero-based line/character offset inside a source file.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Card is one board item anchored to a source location. MiroLink is the
// card's identity across every board, not only its own.
type Card struct {
	MiroLink           string     `json:"miroLink" validate:"required"`
	BoardID            string     `json:"boardId"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Path               string     `json:"path,omitempty"`
	Symbol             string     `json:"symbol,omitempty"`
	Type               CardType   `json:"type" validate:"omitempty,oneof=symbol group"`
	Status             CardStatus `json:"status" validate:"omitempty,oneof=connected disconnected"`
	CodeLink           string     `json:"codeLink,omitempty"`
	SymbolPosition     *Range     `json:"symbolPosition,omitempty"`
	DefinitionPosition *Range     `json:"definitionPosition,omitempty"`
}

// HasAnchor reports whether the card points at a source file.
func (c Card) HasAnchor() bool {
	return c.Path != ""
}

// Clone copies the card including its position ranges.
func (c Card) Clone() Card {
	if c.SymbolPosition != nil {
		r := *c.SymbolPosition
		c.SymbolPosition = &r
	}
	if c.DefinitionPosition != nil {
		r := *c.DefinitionPosition
		c.DefinitionPosition = &r
	}
	return c
}

var validate = validator.New() //nolint:gochecknoglobals // validator caches struct metadata

// Validate checks the card's struct tags. The returned error wraps
// ErrInvalidCard and names every failing field.
func (c Card) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrInvalidCard, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidCard, strings.Join(msgs, "; "))
}
