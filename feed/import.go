package feed

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DecodeEvents reads either a single event or a list of events from r. JSON
// input works too, since JSON is valid YAML. Unknown fields are an error.
// Events without an ID are given a random one.
func DecodeEvents(r io.Reader) ([]Event, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("can't read events: %v", err)
	}

	var n yaml.Node
	if err := yaml.Unmarshal(b, &n); err != nil {
		return nil, fmt.Errorf("can't parse events: %v", err)
	}
	// An empty document
	if len(n.Content) == 0 {
		return nil, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var events []Event
	switch n.Content[0].Kind {
	case yaml.SequenceNode:
		err = dec.Decode(&events)
	case yaml.MappingNode:
		var e Event
		err = dec.Decode(&e)
		events = []Event{e}
	default:
		return nil, errors.New("expected an event or a list of events")
	}
	if err != nil {
		return nil, fmt.Errorf("can't parse events: %v", err)
	}

	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.New().String()
		}
	}
	return events, nil
}
