package model

import "encoding/json"

// Validate checks the structural shape of a request: known tags and
// well-formed JSON blobs. Per-kind semantic checks (recipients, html) are
// left to the executors.
func (r CreateRequest) Validate() error {
	if _, err := ParseOperationType(string(r.Type)); err != nil {
		return err
	}
	if len(r.Metadata) > 0 && !json.Valid(r.Metadata) {
		return Validationf("metadata is not valid JSON")
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return Validationf("payload is not valid JSON")
	}
	for i, t := range r.Targets {
		kind, err := ParseChannelKind(string(t.Kind))
		if err != nil {
			return Validationf("channels[%d]: unknown channel %q", i, t.Kind)
		}
		if kind == ChannelImplicit {
			return Validationf("channels[%d]: %q cannot be requested explicitly", i, kind)
		}
		if len(t.Payload) > 0 && !json.Valid(t.Payload) {
			return Validationf("channels[%d]: payload is not valid JSON", i)
		}
	}
	return nil
}

// Normalized returns a copy of r with every tag folded to its canonical
// spelling. Call Validate first.
func (r CreateRequest) Normalized() CreateRequest {
	out := r
	if t, err := ParseOperationType(string(r.Type)); err == nil {
		out.Type = t
	}
	out.Targets = make([]Target, len(r.Targets))
	for i, t := range r.Targets {
		if k, err := ParseChannelKind(string(t.Kind)); err == nil {
			t.Kind = k
		}
		out.Targets[i] = t
	}
	return out
}
