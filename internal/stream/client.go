package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/wire"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
)

// Client reads frames from a remote FrameService.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. Without options the connection is
// plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMsgSize)))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Stream calls fn for every frame the server sends. It returns nil when the
// server ends the stream, the error from fn if fn fails, and otherwise the
// RPC error.
func (c *Client) Stream(ctx context.Context, req Request, fn func(mocap.Frame) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cs, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], StreamFramesMethod)
	if err != nil {
		return err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := stream.SendMsg(req.toStruct()); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		f, err := wire.FrameFromStruct(msg)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}
