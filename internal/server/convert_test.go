package server

import (
	"errors"
	"fmt"
	"testing"

	"github.com/alfredjeanlab/relaymux/internal/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestEventStructRoundTrip(t *testing.T) {
	ev := &model.Event{
		ID: "abc", Author: "alice", Kind: 1, CreatedAt: 1700000123,
		Tags: [][]string{{"e", "parent"}, {"t", "go"}}, Content: "hello", Sig: "sig",
	}
	s, err := toStruct(ev)
	if err != nil {
		t.Fatalf("toStruct: %v", err)
	}
	if s.GetFields()["pubkey"].GetStringValue() != "alice" {
		t.Fatalf("struct = %v", s.AsMap())
	}

	req, err := structpb.NewStruct(map[string]any{"event": s.AsMap()})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	got, err := eventField(req, "event")
	if err != nil {
		t.Fatalf("eventField: %v", err)
	}
	if fmt.Sprint(got) != fmt.Sprint(ev) {
		t.Fatalf("round trip = %+v, want %+v", got, ev)
	}
}

func TestFilterField(t *testing.T) {
	for _, tc := range []struct {
		name    string
		fields  map[string]any
		want    string
		wantErr bool
	}{
		{"Absent", map[string]any{}, `{}`, false},
		{"Null", map[string]any{"filter": nil}, `{}`, false},
		{"Full", map[string]any{"filter": map[string]any{
			"authors": []any{"alice"}, "kinds": []any{0.0, 3.0}, "#p": []any{"bob"}, "since": 1700000000.0,
		}}, `{"#p":["bob"],"authors":["alice"],"kinds":[0,3],"since":1700000000}`, false},
		{"EmptyList", map[string]any{"filter": map[string]any{"ids": []any{}}}, `{"ids":[]}`, false},
		{"WrongType", map[string]any{"filter": map[string]any{"since": "noon"}}, "", true},
		{"NotObject", map[string]any{"filter": "kinds=1"}, "", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, err := structpb.NewStruct(tc.fields)
			if err != nil {
				t.Fatalf("NewStruct: %v", err)
			}
			f, err := filterField(s, "filter")
			if tc.wantErr {
				var ie inputError
				if !errors.As(err, &ie) {
					t.Fatalf("expected inputError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("filterField: %v", err)
			}
			if f.String() != tc.want {
				t.Fatalf("filter = %s, want %s", f, tc.want)
			}
		})
	}
}

func TestRPCError(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		code codes.Code
	}{
		{"Input", inputError("bad"), codes.InvalidArgument},
		{"WrappedInput", fmt.Errorf("ctx: %w", inputError("bad")), codes.InvalidArgument},
		{"Internal", errors.New("disk on fire"), codes.Internal},
		{"AlreadyStatus", status.Error(codes.NotFound, "gone"), codes.NotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := status.Code(rpcError(tc.err)); got != tc.code {
				t.Fatalf("code = %v, want %v", got, tc.code)
			}
		})
	}
}

func TestBoolFieldOr(t *testing.T) {
	req, err := structpb.NewStruct(map[string]any{"on": true, "off": false, "null": nil, "text": "yes"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	for _, tc := range []struct {
		name string
		def  bool
		want bool
	}{
		{"on", false, true},
		{"off", true, false},
		{"null", true, true},
		{"missing", true, true},
		{"missing", false, false},
		{"text", true, false},
	} {
		if got := boolFieldOr(req, tc.name, tc.def); got != tc.want {
			t.Fatalf("boolFieldOr(%q, %v) = %v, want %v", tc.name, tc.def, got, tc.want)
		}
	}
	if !boolFieldOr(nil, "on", true) {
		t.Fatal("nil struct should yield the default")
	}
}
