// Package stream serves engine frames to remote readers over gRPC.
//
// The service carries google.protobuf.Struct messages in both directions, so
// no generated code is needed:
//
//	service FrameService {
//	  rpc StreamFrames(google.protobuf.Struct) returns (stream google.protobuf.Struct);
//	}
package stream

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/datastream"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "mocap.v1.FrameService"
	// StreamFramesMethod is the full method path of StreamFrames.
	StreamFramesMethod = "/" + ServiceName + "/StreamFrames"
)

// FrameServiceServer is the server API for FrameService.
type FrameServiceServer interface {
	StreamFrames(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FrameServiceServer).StreamFrames(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FrameServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "mocap/v1/frames.proto",
}

// RegisterService registers srv with a gRPC server.
func RegisterService(s grpc.ServiceRegistrar, srv FrameServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Request selects what a StreamFrames call receives.
type Request struct {
	Mode datastream.ReadMode
	// Objects, when set, narrows each frame to these names in this order.
	// Missing names are sent as occluded placeholders.
	Objects []string
}

func (r Request) toStruct() *structpb.Struct {
	objects := make([]any, len(r.Objects))
	for i, n := range r.Objects {
		objects[i] = n
	}
	st, _ := structpb.NewStruct(map[string]any{
		"mode":    r.Mode.String(),
		"objects": objects,
	})
	return st
}

func requestFromStruct(st *structpb.Struct) (Request, error) {
	var r Request
	fields := st.GetFields()
	mode, err := datastream.ParseReadMode(fields["mode"].GetStringValue())
	if err != nil {
		return r, err
	}
	r.Mode = mode
	if v, ok := fields["objects"]; ok && v.GetListValue() != nil {
		for _, item := range v.GetListValue().GetValues() {
			name, ok := item.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return r, fmt.Errorf("stream: objects must be strings")
			}
			r.Objects = append(r.Objects, name.StringValue)
		}
	}
	return r, nil
}
