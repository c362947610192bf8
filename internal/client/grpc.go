package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/alfredjeanlab/relaymux/internal/server"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCClient implements RelayClient using the gRPC transport.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

var _ RelayClient = (*GRPCClient)(nil)

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr, token string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return NewGRPCClientFromConn(conn, token), nil
}

// NewGRPCClientFromConn wraps an existing connection. Close closes conn.
func NewGRPCClientFromConn(conn *grpc.ClientConn, token string) *GRPCClient {
	return &GRPCClient{conn: conn, token: token}
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// outgoing attaches the bearer token, if any.
func (c *GRPCClient) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req map[string]any, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), method, in, resp); err != nil {
		return err
	}
	return fromStruct(resp, out)
}

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.invoke(ctx, server.MethodHealth, map[string]any{}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *GRPCClient) Query(ctx context.Context, filter model.Filter) ([]*model.Event, error) {
	var resp struct {
		Events []*model.Event `json:"events"`
	}
	if err := c.invoke(ctx, server.MethodQuery, map[string]any{"filter": filter}, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *GRPCClient) Publish(ctx context.Context, ev *model.Event, broadcast bool) (*PublishResult, error) {
	var resp PublishResult
	req := map[string]any{"event": ev, "broadcast": broadcast}
	if err := c.invoke(ctx, server.MethodPublish, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) Subscribe(ctx context.Context, filter model.Filter, sinceLastOpened bool, fn func(*model.Event)) error {
	in, err := toStruct(map[string]any{"filter": filter, "since_last_opened": sinceLastOpened})
	if err != nil {
		return err
	}
	stream, err := c.conn.NewStream(c.outgoing(ctx), &server.SubscribeStreamDesc, server.MethodSubscribe)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) || (status.Code(err) == codes.Canceled && ctx.Err() != nil) {
				return nil
			}
			return err
		}
		var ev model.Event
		if err := fromStruct(msg, &ev); err != nil {
			return err
		}
		fn(&ev)
	}
}

// toStruct converts a JSON-encodable value to a Struct via its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return s, nil
}

// fromStruct decodes a Struct into out via its JSON form.
func fromStruct(s *structpb.Struct, out any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
