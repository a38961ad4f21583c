package control

import (
	"context"
	"io"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/domain"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/supervisor"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Gateway is the remote view of a supervisor.
type Gateway interface {
	domain.Contract
	domain.EventStreamer
}

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) Gateway {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) invoke(ctx context.Context, method string, fields map[string]interface{}) (request, error) {
	req, err := newStruct(fields)
	if err != nil {
		return request{}, err
	}
	response := new(structpb.Struct)
	if err := gw.conn.Invoke(ctx, fullMethod(method), req, response); err != nil {
		gw.logger.Debugf("%s client gateway: %v", method, err)
		return request{}, fromStatus(err)
	}
	gw.logger.Debugf("%s client gateway done", method)
	return request{s: response}, nil
}

func (gw *grpcClientGateway) invokeCompletion(ctx context.Context, method string, fields map[string]interface{}) (supervisor.Completion, error) {
	response, err := gw.invoke(ctx, method, fields)
	if err != nil {
		return supervisor.Completion{}, err
	}
	return decodeCompletion(response), nil
}

func (gw *grpcClientGateway) invokeResults(ctx context.Context, method string, fields map[string]interface{}) ([]supervisor.ProcessResult, error) {
	response, err := gw.invoke(ctx, method, fields)
	if err != nil {
		return nil, err
	}
	return decodeResults(response), nil
}

func (gw *grpcClientGateway) invokeEmpty(ctx context.Context, method string, fields map[string]interface{}) error {
	_, err := gw.invoke(ctx, method, fields)
	return err
}

func named(name string, wait bool) map[string]interface{} {
	return map[string]interface{}{fieldName: name, fieldWait: wait}
}

// ===== State =====

func (gw *grpcClientGateway) GetState(ctx context.Context) (supervisor.StateInfo, error) {
	response, err := gw.invoke(ctx, methodGetState, nil)
	if err != nil {
		return supervisor.StateInfo{}, err
	}
	return decodeState(response), nil
}

func (gw *grpcClientGateway) GetProcessInfo(ctx context.Context, name string) (supervisor.ProcessInfo, error) {
	response, err := gw.invoke(ctx, methodGetProcessInfo, map[string]interface{}{fieldName: name})
	if err != nil {
		return supervisor.ProcessInfo{}, err
	}
	return decodeProcessInfo(response), nil
}

func (gw *grpcClientGateway) GetAllProcessInfo(ctx context.Context) ([]supervisor.ProcessInfo, error) {
	response, err := gw.invoke(ctx, methodGetAllProcessInfo, nil)
	if err != nil {
		return nil, err
	}
	return decodeProcessInfos(response), nil
}

// ===== Start / stop / restart =====

func (gw *grpcClientGateway) StartProcess(ctx context.Context, name string, wait bool) (supervisor.Completion, error) {
	return gw.invokeCompletion(ctx, methodStartProcess, named(name, wait))
}

func (gw *grpcClientGateway) StopProcess(ctx context.Context, name string, wait bool) (supervisor.Completion, error) {
	return gw.invokeCompletion(ctx, methodStopProcess, named(name, wait))
}

func (gw *grpcClientGateway) RestartProcess(ctx context.Context, name string, wait bool) (supervisor.Completion, error) {
	return gw.invokeCompletion(ctx, methodRestartProcess, named(name, wait))
}

func (gw *grpcClientGateway) StartGroup(ctx context.Context, name string, wait bool) (supervisor.Completion, error) {
	return gw.invokeCompletion(ctx, methodStartGroup, named(name, wait))
}

func (gw *grpcClientGateway) StopGroup(ctx context.Context, name string, wait bool) (supervisor.Completion, error) {
	return gw.invokeCompletion(ctx, methodStopGroup, named(name, wait))
}

func (gw *grpcClientGateway) RestartGroup(ctx context.Context, name string, wait bool) (supervisor.Completion, error) {
	return gw.invokeCompletion(ctx, methodRestartGroup, named(name, wait))
}

func (gw *grpcClientGateway) StartAll(ctx context.Context, wait bool) (supervisor.Completion, error) {
	return gw.invokeCompletion(ctx, methodStartAll, map[string]interface{}{fieldWait: wait})
}

func (gw *grpcClientGateway) StopAll(ctx context.Context, wait bool) (supervisor.Completion, error) {
	return gw.invokeCompletion(ctx, methodStopAll, map[string]interface{}{fieldWait: wait})
}

func (gw *grpcClientGateway) PollToken(ctx context.Context, token string) (supervisor.Completion, error) {
	return gw.invokeCompletion(ctx, methodPollToken, map[string]interface{}{fieldToken: token})
}

// ===== Signals =====

func (gw *grpcClientGateway) SignalProcess(ctx context.Context, name, sig string) ([]supervisor.ProcessResult, error) {
	return gw.invokeResults(ctx, methodSignalProcess, map[string]interface{}{fieldName: name, fieldSignal: sig})
}

func (gw *grpcClientGateway) SignalGroup(ctx context.Context, name, sig string) ([]supervisor.ProcessResult, error) {
	return gw.invokeResults(ctx, methodSignalGroup, map[string]interface{}{fieldName: name, fieldSignal: sig})
}

func (gw *grpcClientGateway) SignalAll(ctx context.Context, sig string) ([]supervisor.ProcessResult, error) {
	return gw.invokeResults(ctx, methodSignalAll, map[string]interface{}{fieldSignal: sig})
}

// ===== Logs =====

func logRequest(name, channel string, offset, length int64) map[string]interface{} {
	return map[string]interface{}{
		fieldName:    name,
		fieldChannel: channel,
		fieldOffset:  offset,
		fieldLength:  length,
	}
}

func (gw *grpcClientGateway) ReadProcessLog(ctx context.Context, name, channel string, offset, length int64) ([]byte, error) {
	response, err := gw.invoke(ctx, methodReadProcessLog, logRequest(name, channel, offset, length))
	if err != nil {
		return nil, err
	}
	return response.bytes(fieldData)
}

func (gw *grpcClientGateway) TailProcessLog(ctx context.Context, name, channel string, offset, length int64) (logcollection.TailResult, error) {
	response, err := gw.invoke(ctx, methodTailProcessLog, logRequest(name, channel, offset, length))
	if err != nil {
		return logcollection.TailResult{}, err
	}
	return decodeTail(response)
}

func (gw *grpcClientGateway) ClearProcessLogs(ctx context.Context, name string) error {
	return gw.invokeEmpty(ctx, methodClearProcessLogs, map[string]interface{}{fieldName: name})
}

func (gw *grpcClientGateway) ClearAllProcessLogs(ctx context.Context) ([]supervisor.ProcessResult, error) {
	return gw.invokeResults(ctx, methodClearAllProcessLogs, nil)
}

// ===== Input and events =====

func (gw *grpcClientGateway) SendProcessStdin(ctx context.Context, name, chars string) error {
	return gw.invokeEmpty(ctx, methodSendProcessStdin, map[string]interface{}{fieldName: name, fieldChars: chars})
}

func (gw *grpcClientGateway) SendRemoteCommEvent(ctx context.Context, kind, data string) error {
	return gw.invokeEmpty(ctx, methodSendRemoteCommEvent, map[string]interface{}{fieldType: kind, fieldData: data})
}

// ===== Supervisor control =====

func (gw *grpcClientGateway) Shutdown(ctx context.Context) error {
	return gw.invokeEmpty(ctx, methodShutdown, nil)
}

func (gw *grpcClientGateway) Restart(ctx context.Context) error {
	return gw.invokeEmpty(ctx, methodRestart, nil)
}

func (gw *grpcClientGateway) ReopenLogs(ctx context.Context) error {
	return gw.invokeEmpty(ctx, methodReopenLogs, nil)
}

// ===== Event stream =====

func (gw *grpcClientGateway) SubscribeEvents(ctx context.Context, types []events.EventType) (<-chan domain.EventMessage, error) {
	names := make([]interface{}, 0, len(types))
	for _, typ := range types {
		names = append(names, string(typ))
	}
	req, err := newStruct(map[string]interface{}{fieldTypes: names})
	if err != nil {
		return nil, err
	}

	stream, err := gw.conn.NewStream(ctx, &subscribeEventsStreamDesc, fullMethod(streamSubscribeEvents))
	if err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}

	ch := make(chan domain.EventMessage, subscriberBufferSize)
	go func() {
		defer close(ch)
		for {
			message := new(structpb.Struct)
			if err := stream.RecvMsg(message); err != nil {
				if err != io.EOF && ctx.Err() == nil {
					gw.logger.Warnf("SubscribeEvents client gateway: %v", fromStatus(err))
				}
				return
			}
			select {
			case ch <- decodeEvent(request{s: message}):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Await polls a pending completion until it is done. Completions that are
// already done are returned as is.
func Await(ctx context.Context, contract domain.Contract, completion supervisor.Completion, interval time.Duration) (supervisor.Completion, error) {
	for !completion.Done() {
		select {
		case <-ctx.Done():
			return completion, errors.NewCancelledError("wait cancelled", ctx.Err())
		case <-time.After(interval):
		}
		next, err := contract.PollToken(ctx, completion.Token)
		if err != nil {
			return completion, err
		}
		completion = next
	}
	return completion, nil
}
