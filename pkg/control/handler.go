package control

import (
	"context"

	"github.com/core-tools/hsu-supervisor/pkg/domain"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/supervisor"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ domain.Contract = (*supervisor.Supervisor)(nil)

// RegisterGRPCServerHandler exposes handler on the gRPC server. streamer may
// be nil, in which case SubscribeEvents is refused.
func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, streamer domain.EventStreamer, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(serviceDesc(), &grpcServerHandler{
		handler:  handler,
		streamer: streamer,
		logger:   logger,
	})
}

type grpcServerHandler struct {
	handler  domain.Contract
	streamer domain.EventStreamer
	logger   logging.Logger
}

func (h *grpcServerHandler) Invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	fields, err := h.dispatch(ctx, method, request{s: req})
	if err != nil {
		h.logger.Debugf("%s server handler: %v", method, err)
		return nil, toStatus(err)
	}
	response, err := newStruct(fields)
	if err != nil {
		h.logger.Errorf("%s server handler: %v", method, err)
		return nil, toStatus(err)
	}
	h.logger.Debugf("%s server handler done", method)
	return response, nil
}

func (h *grpcServerHandler) dispatch(ctx context.Context, method string, r request) (map[string]interface{}, error) {
	name := r.str(fieldName)
	wait := r.boolean(fieldWait)

	switch method {
	case methodGetState:
		state, err := h.handler.GetState(ctx)
		if err != nil {
			return nil, err
		}
		return encodeState(state), nil
	case methodGetProcessInfo:
		info, err := h.handler.GetProcessInfo(ctx, name)
		if err != nil {
			return nil, err
		}
		return encodeProcessInfo(info), nil
	case methodGetAllProcessInfo:
		infos, err := h.handler.GetAllProcessInfo(ctx)
		if err != nil {
			return nil, err
		}
		return encodeProcessInfos(infos), nil

	case methodStartProcess:
		return completion(h.handler.StartProcess(ctx, name, wait))
	case methodStopProcess:
		return completion(h.handler.StopProcess(ctx, name, wait))
	case methodRestartProcess:
		return completion(h.handler.RestartProcess(ctx, name, wait))
	case methodStartGroup:
		return completion(h.handler.StartGroup(ctx, name, wait))
	case methodStopGroup:
		return completion(h.handler.StopGroup(ctx, name, wait))
	case methodRestartGroup:
		return completion(h.handler.RestartGroup(ctx, name, wait))
	case methodStartAll:
		return completion(h.handler.StartAll(ctx, wait))
	case methodStopAll:
		return completion(h.handler.StopAll(ctx, wait))
	case methodPollToken:
		return completion(h.handler.PollToken(ctx, r.str(fieldToken)))

	case methodSignalProcess:
		return results(h.handler.SignalProcess(ctx, name, r.str(fieldSignal)))
	case methodSignalGroup:
		return results(h.handler.SignalGroup(ctx, name, r.str(fieldSignal)))
	case methodSignalAll:
		return results(h.handler.SignalAll(ctx, r.str(fieldSignal)))

	case methodReadProcessLog:
		data, err := h.handler.ReadProcessLog(ctx, name, r.str(fieldChannel), r.int64(fieldOffset), r.int64(fieldLength))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{fieldData: data}, nil
	case methodTailProcessLog:
		tail, err := h.handler.TailProcessLog(ctx, name, r.str(fieldChannel), r.int64(fieldOffset), r.int64(fieldLength))
		if err != nil {
			return nil, err
		}
		return encodeTail(tail), nil
	case methodClearProcessLogs:
		return empty(h.handler.ClearProcessLogs(ctx, name))
	case methodClearAllProcessLogs:
		return results(h.handler.ClearAllProcessLogs(ctx))

	case methodSendProcessStdin:
		return empty(h.handler.SendProcessStdin(ctx, name, r.str(fieldChars)))
	case methodSendRemoteCommEvent:
		return empty(h.handler.SendRemoteCommEvent(ctx, r.str(fieldType), r.str(fieldData)))

	case methodShutdown:
		return empty(h.handler.Shutdown(ctx))
	case methodRestart:
		return empty(h.handler.Restart(ctx))
	case methodReopenLogs:
		return empty(h.handler.ReopenLogs(ctx))
	}
	return nil, errors.NewInternalError("unknown method "+method, nil)
}

func completion(c supervisor.Completion, err error) (map[string]interface{}, error) {
	if err != nil {
		return nil, err
	}
	return encodeCompletion(c), nil
}

func results(r []supervisor.ProcessResult, err error) (map[string]interface{}, error) {
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{fieldResults: encodeResults(r)}, nil
}

func empty(err error) (map[string]interface{}, error) {
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

func (h *grpcServerHandler) SubscribeEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	if h.streamer == nil {
		return toStatus(errors.NewFailedError("event streaming is not enabled", nil))
	}
	types, err := eventTypes(request{s: req}.stringList(fieldTypes))
	if err != nil {
		return toStatus(err)
	}

	ctx := stream.Context()
	ch, err := h.streamer.SubscribeEvents(ctx, types)
	if err != nil {
		h.logger.Errorf("SubscribeEvents server handler: %v", err)
		return toStatus(err)
	}
	h.logger.Debugf("SubscribeEvents server handler started, types: %v", types)

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugf("SubscribeEvents server handler done")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			message, err := newStruct(encodeEvent(msg))
			if err != nil {
				h.logger.Errorf("SubscribeEvents server handler: %v", err)
				continue
			}
			if err := stream.SendMsg(message); err != nil {
				return err
			}
		}
	}
}
