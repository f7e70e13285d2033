package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "securetalk.v1.Talk"

// TalkServer is the daemon API. Requests and responses are JSON-shaped
// structpb.Struct values.
type TalkServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	WhoAmI(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefreshChats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListContacts(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CreateChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseChat(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetThread(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// FullMethod returns the invocation path of a Talk method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Methods whose request is google.protobuf.Empty.
var emptyRequest = map[string]bool{
	"GetStatus":    true,
	"Logout":       true,
	"WhoAmI":       true,
	"RefreshChats": true,
	"ListContacts": true,
	"WatchEvents":  true,
}

// Methods whose response is google.protobuf.Empty.
var emptyResponse = map[string]bool{
	"Logout":    true,
	"CloseChat": true,
}

// TakesEmpty reports whether method's request is google.protobuf.Empty.
func TakesEmpty(method string) bool { return emptyRequest[method] }

// ReturnsEmpty reports whether method's response is google.protobuf.Empty.
func ReturnsEmpty(method string) bool { return emptyResponse[method] }

func unary[Req, Resp any](method string, call func(TalkServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(TalkServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TalkServer).WatchEvents(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// TalkServiceDesc describes securetalk.v1.Talk for grpc.Server.RegisterService.
var TalkServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TalkServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", TalkServer.GetStatus),
		unary("Login", TalkServer.Login),
		unary("Register", TalkServer.Register),
		unary("Logout", TalkServer.Logout),
		unary("WhoAmI", TalkServer.WhoAmI),
		unary("ListChats", TalkServer.ListChats),
		unary("RefreshChats", TalkServer.RefreshChats),
		unary("ListContacts", TalkServer.ListContacts),
		unary("CreateChat", TalkServer.CreateChat),
		unary("OpenChat", TalkServer.OpenChat),
		unary("CloseChat", TalkServer.CloseChat),
		unary("GetThread", TalkServer.GetThread),
		unary("SendText", TalkServer.SendText),
		unary("RetryMessage", TalkServer.RetryMessage),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "securetalk/v1/talk.proto",
}

// RegisterTalkServer registers srv on s.
func RegisterTalkServer(s grpc.ServiceRegistrar, srv TalkServer) {
	s.RegisterService(&TalkServiceDesc, srv)
}
