// Package client talks to a running talkd over its Unix socket.
package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/securetalk/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes a unary Talk method. req is ignored by methods that take no
// arguments, and the result is nil for methods that return nothing.
func (c *Client) Call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	var in proto.Message = &emptypb.Empty{}
	if !api.TakesEmpty(method) {
		st, err := structpb.NewStruct(req)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", method, err)
		}
		in = st
	}
	if api.ReturnsEmpty(method) {
		return nil, c.conn.Invoke(ctx, api.FullMethod(method), in, &emptypb.Empty{})
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

var watchDesc = &grpc.StreamDesc{StreamName: "WatchEvents", ServerStreams: true}

// Watch streams daemon events until ctx is done or the daemon goes away.
// Each call of the returned function blocks for the next event.
func (c *Client) Watch(ctx context.Context) (func() (map[string]any, error), error) {
	stream, err := c.conn.NewStream(ctx, watchDesc, api.FullMethod("WatchEvents"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return func() (map[string]any, error) {
		evt := &structpb.Struct{}
		if err := stream.RecvMsg(evt); err != nil {
			return nil, err
		}
		return evt.AsMap(), nil
	}, nil
}
