package consumer

import (
	"encoding/json"
	"fmt"

	parsepipe "github.com/quillhq/parsepipe"
)

// envelope is the broker message shape: plain json.Unmarshal followed by
// a post-decode validation pass rather than a bespoke parser.
type envelope struct {
	UserID             string `json:"userId"`
	TaskID             string `json:"taskId"`
	ExtractFromArchive *bool  `json:"extractFromArchive"`
}

// fixup validates a decoded envelope: decode succeeding is not
// sufficient, the message must also carry every field the pipeline
// requires.
func (e *envelope) fixup() error {
	if e.UserID == "" {
		return fmt.Errorf("missing userId")
	}
	if e.TaskID == "" {
		return fmt.Errorf("missing taskId")
	}
	return nil
}

// mode resolves extractFromArchive to a Mode, defaulting to archive mode
// when the field is omitted.
func (e *envelope) mode() parsepipe.Mode {
	if e.ExtractFromArchive != nil && !*e.ExtractFromArchive {
		return parsepipe.ModeDirect
	}
	return parsepipe.ModeArchive
}

// decodeEnvelope unmarshals one broker message body into a WorkUnit,
// returning *parsepipe.ErrBadMessage on any decode or validation failure —
// the Consumer rejects such messages without requeue and never touches the
// registry for them.
func decodeEnvelope(body []byte) (parsepipe.WorkUnit, error) {
	var e envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return parsepipe.WorkUnit{}, &parsepipe.ErrBadMessage{Reason: err.Error()}
	}
	if err := e.fixup(); err != nil {
		return parsepipe.WorkUnit{}, &parsepipe.ErrBadMessage{Reason: err.Error()}
	}
	return parsepipe.WorkUnit{UserID: e.UserID, TaskID: e.TaskID, Mode: e.mode()}, nil
}
