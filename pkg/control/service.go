package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name. Messages are
// google.protobuf.Struct in both directions, so no generated code is needed.
const ServiceName = "hsu.supervisor.v1.SupervisorService"

const (
	methodGetState            = "GetState"
	methodGetProcessInfo      = "GetProcessInfo"
	methodGetAllProcessInfo   = "GetAllProcessInfo"
	methodStartProcess        = "StartProcess"
	methodStopProcess         = "StopProcess"
	methodRestartProcess      = "RestartProcess"
	methodStartGroup          = "StartGroup"
	methodStopGroup           = "StopGroup"
	methodRestartGroup        = "RestartGroup"
	methodStartAll            = "StartAll"
	methodStopAll             = "StopAll"
	methodPollToken           = "PollToken"
	methodSignalProcess       = "SignalProcess"
	methodSignalGroup         = "SignalGroup"
	methodSignalAll           = "SignalAll"
	methodReadProcessLog      = "ReadProcessLog"
	methodTailProcessLog      = "TailProcessLog"
	methodClearProcessLogs    = "ClearProcessLogs"
	methodClearAllProcessLogs = "ClearAllProcessLogs"
	methodSendProcessStdin    = "SendProcessStdin"
	methodSendRemoteCommEvent = "SendRemoteCommEvent"
	methodShutdown            = "Shutdown"
	methodRestart             = "Restart"
	methodReopenLogs          = "ReopenLogs"

	streamSubscribeEvents = "SubscribeEvents"
)

var unaryMethods = []string{
	methodGetState,
	methodGetProcessInfo,
	methodGetAllProcessInfo,
	methodStartProcess,
	methodStopProcess,
	methodRestartProcess,
	methodStartGroup,
	methodStopGroup,
	methodRestartGroup,
	methodStartAll,
	methodStopAll,
	methodPollToken,
	methodSignalProcess,
	methodSignalGroup,
	methodSignalAll,
	methodReadProcessLog,
	methodTailProcessLog,
	methodClearProcessLogs,
	methodClearAllProcessLogs,
	methodSendProcessStdin,
	methodSendRemoteCommEvent,
	methodShutdown,
	methodRestart,
	methodReopenLogs,
}

// SupervisorServiceServer is what the service descriptor dispatches to.
type SupervisorServiceServer interface {
	Invoke(ctx context.Context, method string, request *structpb.Struct) (*structpb.Struct, error)
	SubscribeEvents(request *structpb.Struct, stream grpc.ServerStream) error
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		request := new(structpb.Struct)
		if err := dec(request); err != nil {
			return nil, err
		}
		server := srv.(SupervisorServiceServer)
		if interceptor == nil {
			return server.Invoke(ctx, method, request)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return server.Invoke(ctx, method, req.(*structpb.Struct))
		}
		return interceptor(ctx, request, info, handler)
	}
}

func subscribeEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	request := new(structpb.Struct)
	if err := stream.RecvMsg(request); err != nil {
		return err
	}
	return srv.(SupervisorServiceServer).SubscribeEvents(request, stream)
}

var subscribeEventsStreamDesc = grpc.StreamDesc{
	StreamName:    streamSubscribeEvents,
	Handler:       subscribeEventsHandler,
	ServerStreams: true,
}

func serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*SupervisorServiceServer)(nil),
		Streams:     []grpc.StreamDesc{subscribeEventsStreamDesc},
		Metadata:    "hsu/supervisor/v1/supervisor.proto",
	}
	for _, method := range unaryMethods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: method,
			Handler:    unaryHandler(method),
		})
	}
	return desc
}
