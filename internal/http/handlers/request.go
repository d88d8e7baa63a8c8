package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/text/unicode/norm"

	"dreamsense/internal/domain"
)

const maxJSONBody = 1 << 20

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body too large", domain.ErrInvalidInput)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrInvalidInput)
		}
		return fmt.Errorf("%w: Invalid JSON in request body", domain.ErrInvalidInput)
	}
	if dec.More() {
		return fmt.Errorf("%w: Invalid request body format", domain.ErrInvalidInput)
	}
	return nil
}

// cleanText trims and NFC-normalizes user supplied text.
func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func requireField(name, value string) (string, error) {
	v := cleanText(value)
	if v == "" {
		return "", fmt.Errorf("%w: Missing required field '%s'", domain.ErrInvalidInput, name)
	}
	return v, nil
}

// badRequest writes the message carried by an ErrInvalidInput error.
func (a *App) badRequest(w http.ResponseWriter, err error) {
	detail := strings.TrimPrefix(err.Error(), domain.ErrInvalidInput.Error()+": ")
	a.error(w, http.StatusBadRequest, "bad_request", detail)
}
