// Package output renders command results for the terminal, either as a
// styled report or as a JSON envelope.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Version is the fleetwatch version, set at build time
var Version = "dev"

// Response is the JSON envelope of every command output
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"` // RFC3339 format
	Version   string      `json:"version"`
}

// SuccessResponse creates a successful response with data
func SuccessResponse(data interface{}) Response {
	return Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   Version,
	}
}

// ErrorResponse creates an error response, keeping any partial data
func ErrorResponse(err error, data interface{}) Response {
	return Response{
		Success:   false,
		Data:      data,
		Error:     err.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   Version,
	}
}

// WriteJSON writes a Response as indented JSON to the given writer
func WriteJSON(w io.Writer, response Response) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WriteJSONData wraps data in a success response and writes it
func WriteJSONData(w io.Writer, data interface{}) error {
	return WriteJSON(w, SuccessResponse(data))
}

// WriteJSONError wraps an error in a response and writes it
func WriteJSONError(w io.Writer, err error) error {
	return WriteJSON(w, ErrorResponse(err, nil))
}
