package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/relaymux/internal/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts any JSON-encodable value to a Struct by way of its JSON
// form, so gRPC messages match the HTTP bodies field for field.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// fieldJSON returns the JSON encoding of a top-level field, or nil when the
// field is absent.
func fieldJSON(s *structpb.Struct, name string) ([]byte, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(v.AsInterface())
	if err != nil {
		return nil, inputError(fmt.Sprintf("%s: %v", name, err))
	}
	return data, nil
}

// filterField decodes a filter field. An absent field is the empty filter.
func filterField(s *structpb.Struct, name string) (model.Filter, error) {
	data, err := fieldJSON(s, name)
	if err != nil || data == nil {
		return model.Filter{}, err
	}
	f, err := model.ParseFilter(data)
	if err != nil {
		return model.Filter{}, inputError(fmt.Sprintf("invalid %s: %v", name, err))
	}
	return f, nil
}

// eventField decodes a required event field.
func eventField(s *structpb.Struct, name string) (*model.Event, error) {
	data, err := fieldJSON(s, name)
	if err != nil {
		return nil, err
	}
	if data == nil || string(data) == "null" {
		return nil, inputError(name + " is required")
	}
	ev, err := model.ParseEvent(data)
	if err != nil {
		return nil, inputError(fmt.Sprintf("invalid %s: %v", name, err))
	}
	return ev, nil
}

func boolField(s *structpb.Struct, name string) bool {
	return boolFieldOr(s, name, false)
}

// boolFieldOr is boolField with def for a missing or null field.
func boolFieldOr(s *structpb.Struct, name string, def bool) bool {
	v, ok := s.GetFields()[name]
	if !ok {
		return def
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return def
	}
	return v.GetBoolValue()
}

// rpcError maps a service-layer error to a gRPC status.
func rpcError(err error) error {
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}
	var ie inputError
	if errors.As(err, &ie) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
