// Package feed streams release events to subscribed consumers over gRPC.
// Messages are google.protobuf.Struct values so that consumers need no
// generated code beyond the well-known types.
package feed

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Actions carried by events
const (
	ActionPublished   = "published"
	ActionOverwritten = "overwritten"
	ActionDeleted     = "deleted"
)

// Event announces a change of a version's current revision
type Event struct {
	Action      string
	Application string // application slug
	Version     string
	RevisionID  uint
	RevisionNo  int
	SHA256      string
	Size        int64
	Timestamp   int64 // unix seconds
}

// ToStruct encodes e as a wire message
func (e *Event) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"action":      e.Action,
		"application": e.Application,
		"version":     e.Version,
		"revision_id": float64(e.RevisionID),
		"revision_no": float64(e.RevisionNo),
		"sha256":      e.SHA256,
		"size":        float64(e.Size),
		"timestamp":   float64(e.Timestamp),
	})
}

// EventFromStruct decodes a wire message
func EventFromStruct(s *structpb.Struct) (*Event, error) {
	if s == nil {
		return nil, fmt.Errorf("empty event")
	}
	f := s.GetFields()

	e := &Event{
		Action:      f["action"].GetStringValue(),
		Application: f["application"].GetStringValue(),
		Version:     f["version"].GetStringValue(),
		RevisionID:  uint(f["revision_id"].GetNumberValue()),
		RevisionNo:  int(f["revision_no"].GetNumberValue()),
		SHA256:      f["sha256"].GetStringValue(),
		Size:        int64(f["size"].GetNumberValue()),
		Timestamp:   int64(f["timestamp"].GetNumberValue()),
	}
	if e.Action == "" {
		return nil, fmt.Errorf("event has no action")
	}
	return e, nil
}

// SubscribeRequest asks for events, optionally only for some applications
type SubscribeRequest struct {
	ConsumerID   string
	Applications []string
}

// ToStruct encodes r as a wire message
func (r *SubscribeRequest) ToStruct() (*structpb.Struct, error) {
	apps := make([]interface{}, 0, len(r.Applications))
	for _, a := range r.Applications {
		apps = append(apps, a)
	}
	return structpb.NewStruct(map[string]interface{}{
		"consumer_id":  r.ConsumerID,
		"applications": apps,
	})
}

func subscribeRequestFromStruct(s *structpb.Struct) *SubscribeRequest {
	f := s.GetFields()
	req := &SubscribeRequest{ConsumerID: f["consumer_id"].GetStringValue()}
	for _, v := range f["applications"].GetListValue().GetValues() {
		if app := v.GetStringValue(); app != "" {
			req.Applications = append(req.Applications, app)
		}
	}
	return req
}
