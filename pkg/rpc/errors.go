package rpc

import (
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// NewNotFoundError builds a CodeNotFound error carrying the missing
// resource name and key as a structured detail.
func NewNotFoundError(resource, key string) *connect.Error {
	err := connect.NewError(connect.CodeNotFound, fmt.Errorf("%s %s not found", resource, key))
	detail, derr := structpb.NewStruct(map[string]any{
		"resource": resource,
		"key":      key,
	})
	if derr != nil {
		return err
	}
	if d, derr := connect.NewErrorDetail(detail); derr == nil {
		err.AddDetail(d)
	}
	return err
}

// NotFoundDetail extracts the detail attached by NewNotFoundError.
func NotFoundDetail(err error) (resource, key string, ok bool) {
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return "", "", false
	}
	for _, d := range ce.Details() {
		v, derr := d.Value()
		if derr != nil {
			continue
		}
		s, isStruct := v.(*structpb.Struct)
		if !isStruct {
			continue
		}
		fields := s.GetFields()
		return fields["resource"].GetStringValue(), fields["key"].GetStringValue(), true
	}
	return "", "", false
}
