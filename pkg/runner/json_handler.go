package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/labwire/orderdesk/pkg/agent"
)

// JSONHandler implements the IOHandler interface for structured JSON-Lines communication.
//
// Each input line is a JSON string, an object {"message": "..."} or plain
// text. Each reply is written as one JSON object per line; system messages
// are written as {"system": "..."}.
type JSONHandler struct {
	Reader  *bufio.Reader
	Writer  io.Writer
	Encoder *json.Encoder
}

type jsonInput struct {
	Message string `json:"message"`
}

type systemLine struct {
	System string `json:"system"`
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		Writer:  w,
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) Output(ctx context.Context, reply agent.Reply) error {
	return h.Encoder.Encode(reply)
}

func (h *JSONHandler) Input(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := h.Reader.ReadString('\n')
		if err != nil && (err != io.EOF || text == "") {
			return "", err
		}

		clean, serr := SanitizeInput(decodeLine(strings.TrimSpace(text)))
		if serr != nil {
			if err := h.SystemOutput(ctx, "Error: "+serr.Error()); err != nil {
				return "", err
			}
			continue
		}
		return clean, nil
	}
}

func decodeLine(text string) string {
	var val string
	if err := json.Unmarshal([]byte(text), &val); err == nil {
		return val
	}
	var in jsonInput
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &in) == nil {
		return in.Message
	}
	return text
}

func (h *JSONHandler) SystemOutput(ctx context.Context, msg string) error {
	return h.Encoder.Encode(systemLine{System: msg})
}
