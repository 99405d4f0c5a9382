package sale

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// ReconcileInput is the target state for one sale. When SaleID names an
// existing sale it is replaced; otherwise a fresh sale is created and the
// id is ignored.
type ReconcileInput struct {
	SaleID string `json:"id,omitempty"`
	Lines  []Line `json:"lines"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed input, detected before any
// transaction opens.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

func (in ReconcileInput) validate() error {
	var fields []FieldError
	if in.SaleID != "" {
		if _, err := uuid.Parse(in.SaleID); err != nil {
			fields = append(fields, FieldError{Field: "id", Message: "must be a valid UUID"})
		}
	}
	if len(in.Lines) == 0 {
		fields = append(fields, FieldError{Field: "lines", Message: "at least one line is required"})
	}
	for i, line := range in.Lines {
		if _, err := uuid.Parse(line.ProductID); err != nil {
			fields = append(fields, FieldError{
				Field:   fmt.Sprintf("lines[%d].product_id", i),
				Message: "must be a valid UUID",
			})
		}
		if line.Quantity <= 0 {
			fields = append(fields, FieldError{
				Field:   fmt.Sprintf("lines[%d].quantity", i),
				Message: "must be a positive integer",
			})
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
