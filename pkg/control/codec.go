package control

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/domain"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
	"github.com/core-tools/hsu-supervisor/pkg/supervisor"

	"google.golang.org/protobuf/types/known/structpb"
)

// Field names follow the supervisord XML-RPC vocabulary.
const (
	fieldName        = "name"
	fieldGroup       = "group"
	fieldWait        = "wait"
	fieldToken       = "token"
	fieldResults     = "results"
	fieldStatus      = "status"
	fieldDescription = "description"
	fieldSignal      = "signal"
	fieldChannel     = "channel"
	fieldOffset      = "offset"
	fieldLength      = "length"
	fieldOverflow    = "overflow"
	fieldData        = "data"
	fieldChars       = "chars"
	fieldType        = "type"
	fieldTypes       = "types"
	fieldSerial      = "serial"
	fieldPayload     = "payload"
	fieldInfos       = "infos"
	fieldStateCode   = "statecode"
	fieldStateName   = "statename"
	fieldIdentifier  = "identification"
	fieldStart       = "start"
	fieldStop        = "stop"
	fieldNow         = "now"
	fieldState       = "state"
	fieldSpawnErr    = "spawnerr"
	fieldExitStatus  = "exitstatus"
	fieldStdoutLog   = "stdout_logfile"
	fieldStderrLog   = "stderr_logfile"
	fieldPid         = "pid"
)

// request wraps a Struct with typed accessors. Missing fields read as zero.
type request struct {
	s *structpb.Struct
}

func (r request) value(key string) *structpb.Value {
	if r.s == nil {
		return nil
	}
	return r.s.Fields[key]
}

func (r request) str(key string) string   { return r.value(key).GetStringValue() }
func (r request) boolean(key string) bool { return r.value(key).GetBoolValue() }
func (r request) int64(key string) int64  { return int64(r.value(key).GetNumberValue()) }

func (r request) stringList(key string) []string {
	var out []string
	for _, v := range r.value(key).GetListValue().GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

func (r request) list(key string) []request {
	var out []request
	for _, v := range r.value(key).GetListValue().GetValues() {
		out = append(out, request{s: v.GetStructValue()})
	}
	return out
}

func (r request) bytes(key string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(r.str(key))
	if err != nil {
		return nil, errors.NewProtocolError("invalid base64 field "+key, err)
	}
	return data, nil
}

func newStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.NewProtocolError("failed to encode message", err)
	}
	return s, nil
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnixSeconds(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

// ===== State and process info =====

func encodeState(state supervisor.StateInfo) map[string]interface{} {
	return map[string]interface{}{
		fieldStateCode:  int(state.Code),
		fieldStateName:  state.Name,
		fieldIdentifier: state.Identifier,
	}
}

func decodeState(r request) supervisor.StateInfo {
	return supervisor.StateInfo{
		Code:       processstate.SupervisorState(r.int64(fieldStateCode)),
		Name:       r.str(fieldStateName),
		Identifier: r.str(fieldIdentifier),
	}
}

func encodeProcessInfo(info supervisor.ProcessInfo) map[string]interface{} {
	return map[string]interface{}{
		fieldName:        info.Name,
		fieldGroup:       info.Group,
		fieldStart:       unixSeconds(info.Start),
		fieldStop:        unixSeconds(info.Stop),
		fieldNow:         unixSeconds(info.Now),
		fieldState:       int(info.State),
		fieldStateName:   info.StateName,
		fieldSpawnErr:    info.SpawnErr,
		fieldExitStatus:  info.ExitStatus,
		fieldStdoutLog:   info.StdoutLogfile,
		fieldStderrLog:   info.StderrLogfile,
		fieldPid:         info.Pid,
		fieldDescription: info.Description,
	}
}

func decodeProcessInfo(r request) supervisor.ProcessInfo {
	return supervisor.ProcessInfo{
		Name:          r.str(fieldName),
		Group:         r.str(fieldGroup),
		Start:         fromUnixSeconds(r.int64(fieldStart)),
		Stop:          fromUnixSeconds(r.int64(fieldStop)),
		Now:           fromUnixSeconds(r.int64(fieldNow)),
		State:         processstate.ProcessState(r.int64(fieldState)),
		StateName:     r.str(fieldStateName),
		SpawnErr:      r.str(fieldSpawnErr),
		ExitStatus:    int(r.int64(fieldExitStatus)),
		StdoutLogfile: r.str(fieldStdoutLog),
		StderrLogfile: r.str(fieldStderrLog),
		Pid:           int(r.int64(fieldPid)),
		Description:   r.str(fieldDescription),
	}
}

func encodeProcessInfos(infos []supervisor.ProcessInfo) map[string]interface{} {
	list := make([]interface{}, 0, len(infos))
	for _, info := range infos {
		list = append(list, encodeProcessInfo(info))
	}
	return map[string]interface{}{fieldInfos: list}
}

func decodeProcessInfos(r request) []supervisor.ProcessInfo {
	var infos []supervisor.ProcessInfo
	for _, item := range r.list(fieldInfos) {
		infos = append(infos, decodeProcessInfo(item))
	}
	return infos
}

// ===== Completions and results =====

func encodeResults(results []supervisor.ProcessResult) []interface{} {
	list := make([]interface{}, 0, len(results))
	for _, result := range results {
		list = append(list, map[string]interface{}{
			fieldName:        result.Name,
			fieldGroup:       result.Group,
			fieldStatus:      result.Status,
			fieldDescription: result.Description,
		})
	}
	return list
}

func decodeResults(r request) []supervisor.ProcessResult {
	var results []supervisor.ProcessResult
	for _, item := range r.list(fieldResults) {
		results = append(results, supervisor.ProcessResult{
			Name:        item.str(fieldName),
			Group:       item.str(fieldGroup),
			Status:      item.str(fieldStatus),
			Description: item.str(fieldDescription),
		})
	}
	return results
}

func encodeCompletion(c supervisor.Completion) map[string]interface{} {
	return map[string]interface{}{
		fieldToken:   c.Token,
		fieldResults: encodeResults(c.Results),
	}
}

func decodeCompletion(r request) supervisor.Completion {
	return supervisor.Completion{
		Token:   r.str(fieldToken),
		Results: decodeResults(r),
	}
}

// ===== Logs =====

func encodeTail(tail logcollection.TailResult) map[string]interface{} {
	return map[string]interface{}{
		fieldData:     tail.Data,
		fieldOffset:   tail.Offset,
		fieldOverflow: tail.Overflow,
	}
}

func decodeTail(r request) (logcollection.TailResult, error) {
	data, err := r.bytes(fieldData)
	if err != nil {
		return logcollection.TailResult{}, err
	}
	return logcollection.TailResult{
		Data:     data,
		Offset:   r.int64(fieldOffset),
		Overflow: r.boolean(fieldOverflow),
	}, nil
}

// ===== Events =====

func encodeEvent(msg domain.EventMessage) map[string]interface{} {
	return map[string]interface{}{
		fieldType:    string(msg.Type),
		fieldSerial:  msg.Serial,
		fieldPayload: strings.ToValidUTF8(msg.Payload, "\uFFFD"),
	}
}

func decodeEvent(r request) domain.EventMessage {
	return domain.EventMessage{
		Type:    events.EventType(r.str(fieldType)),
		Serial:  uint64(r.int64(fieldSerial)),
		Payload: r.str(fieldPayload),
	}
}

func eventTypes(names []string) ([]events.EventType, error) {
	var types []events.EventType
	for _, name := range names {
		typ, ok := events.ParseEventType(name)
		if !ok {
			return nil, errors.NewBadArgumentsError("unknown event type " + name)
		}
		types = append(types, typ)
	}
	return types, nil
}
