package playback

import "fmt"

type ErrorKind string

const (
	UnrecognizedShape ErrorKind = "unrecognized_shape"
	UnsupportedEvent  ErrorKind = "unsupported_event"
	MissingField      ErrorKind = "missing_field"
)

// NormalizationError reports why a payload could not become a PlaybackEvent.
type NormalizationError struct {
	Kind  ErrorKind
	Field string // MissingField
	Event string // UnsupportedEvent
}

func (e *NormalizationError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("normalize: missing required field %q", e.Field)
	case UnsupportedEvent:
		return fmt.Sprintf("normalize: unsupported event %q", e.Event)
	default:
		return "normalize: unrecognized payload shape"
	}
}

// Is matches on Kind so callers can use errors.Is(err, ErrMissingField).
func (e *NormalizationError) Is(target error) bool {
	t, ok := target.(*NormalizationError)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnrecognizedShape = &NormalizationError{Kind: UnrecognizedShape}
	ErrUnsupportedEvent  = &NormalizationError{Kind: UnsupportedEvent}
	ErrMissingField      = &NormalizationError{Kind: MissingField}
)

func missing(field string) error { return &NormalizationError{Kind: MissingField, Field: field} }

func unsupported(event string) error { return &NormalizationError{Kind: UnsupportedEvent, Event: event} }
