package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/cmdq/internal/observability"
	"github.com/harun/cmdq/internal/tracing"
	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/harun/cmdq/pkg/commands"
)

var errInvalidParams = errors.New("invalid params")

const defaultHistoryLimit = 50

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("queue.add", s.handleQueueAdd)
	_ = s.RegisterMethod("queue.remove", s.handleQueueRemove)
	_ = s.RegisterMethod("queue.moveBefore", s.handleQueueMoveBefore)
	_ = s.RegisterMethod("queue.moveToTail", s.handleQueueMoveToTail)
	_ = s.RegisterMethod("queue.replace", s.handleQueueReplace)
	_ = s.RegisterMethod("queue.list", s.handleQueueList)
	_ = s.RegisterMethod("queue.summary", s.handleQueueSummary)
	_ = s.RegisterMethod("queue.details", s.handleQueueDetails)
	_ = s.RegisterMethod("queue.setDetails", s.handleQueueSetDetails)
	_ = s.RegisterMethod("processor.start", s.handleProcessorStart)
	_ = s.RegisterMethod("processor.stop", s.handleProcessorStop)
	_ = s.RegisterMethod("processor.skip", s.handleProcessorSkip)
	_ = s.RegisterMethod("processor.state", s.handleProcessorState)
	_ = s.RegisterMethod("history.list", s.handleHistoryList)
	_ = s.RegisterMethod("gateway.clients", s.handleGatewayClients)
}

// handleQueueAdd appends every command described by params.spec, which is
// one spec object or a list of them
func (s *Server) handleQueueAdd(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	specs, err := specsParam(params)
	if err != nil {
		return nil, err
	}

	cmds := make([]commandqueue.Command, 0, len(specs))
	for _, spec := range specs {
		cmd, err := spec.Build()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}

	ids := make([]commandqueue.CommandID, 0, len(cmds))
	for _, cmd := range cmds {
		id, err := s.queue.AddToTail(cmd)
		if err != nil {
			s.audit(ctx, "queue.add", "failed", map[string]interface{}{"error": err.Error()})
			return nil, err
		}
		ids = append(ids, id)
	}

	s.audit(ctx, "queue.add", "ok", map[string]interface{}{"ids": ids})
	return map[string]interface{}{"ids": ids}, nil
}

func (s *Server) handleQueueRemove(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := idParam(params, "id")
	if err != nil {
		return nil, err
	}
	if err := s.queue.Remove(id); err != nil {
		return nil, err
	}
	s.audit(ctx, "queue.remove", "ok", map[string]interface{}{"id": id})
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleQueueMoveBefore(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	target, err := idParam(params, "target")
	if err != nil {
		return nil, err
	}
	ids, err := idsParam(params, "ids")
	if err != nil {
		return nil, err
	}
	if err := s.queue.MoveToBefore(target, ids); err != nil {
		return nil, err
	}
	s.audit(ctx, "queue.moveBefore", "ok", map[string]interface{}{"target": target, "ids": ids})
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleQueueMoveToTail(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	ids, err := idsParam(params, "ids")
	if err != nil {
		return nil, err
	}
	if err := s.queue.MoveToTail(ids); err != nil {
		return nil, err
	}
	s.audit(ctx, "queue.moveToTail", "ok", map[string]interface{}{"ids": ids})
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleQueueReplace(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := idParam(params, "id")
	if err != nil {
		return nil, err
	}
	specs, err := specsParam(params)
	if err != nil {
		return nil, err
	}
	if len(specs) != 1 {
		return nil, fmt.Errorf("%w: replace takes exactly one spec", errInvalidParams)
	}
	cmd, err := specs[0].Build()
	if err != nil {
		return nil, err
	}
	if err := s.queue.Replace(id, cmd); err != nil {
		return nil, err
	}
	s.audit(ctx, "queue.replace", "ok", map[string]interface{}{"id": id})
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleQueueList(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"items": s.queue.SummaryList()}, nil
}

func (s *Server) handleQueueSummary(_ context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := idParam(params, "id")
	if err != nil {
		return nil, err
	}
	return s.queue.CommandSummary(id)
}

func (s *Server) handleQueueDetails(_ context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := idParam(params, "id")
	if err != nil {
		return nil, err
	}
	return s.queue.CommandDetails(id)
}

func (s *Server) handleQueueSetDetails(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := idParam(params, "id")
	if err != nil {
		return nil, err
	}
	text, ok := params["text"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: text parameter is required and must be a string", errInvalidParams)
	}
	if err := s.queue.SetCommandDetails(id, commandqueue.Details{Text: text, Editable: true}); err != nil {
		return nil, err
	}
	s.audit(ctx, "queue.setDetails", "ok", map[string]interface{}{"id": id})
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleProcessorStart(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	timeout, err := timeoutParam(params, s.startTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.processor.Start(timeout); err != nil {
		s.audit(ctx, "processor.start", "failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	s.audit(ctx, "processor.start", "ok", nil)
	return s.processorSnapshot(), nil
}

func (s *Server) handleProcessorStop(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	timeout, err := timeoutParam(params, s.stopTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.processor.Stop(timeout); err != nil {
		s.audit(ctx, "processor.stop", "failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	s.audit(ctx, "processor.stop", "ok", nil)
	return s.processorSnapshot(), nil
}

func (s *Server) handleProcessorSkip(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	timeout, err := timeoutParam(params, s.stopTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.processor.Skip(timeout); err != nil {
		s.audit(ctx, "processor.skip", "failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	s.audit(ctx, "processor.skip", "ok", nil)
	return s.processorSnapshot(), nil
}

func (s *Server) handleProcessorState(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return s.processorSnapshot(), nil
}

func (s *Server) handleHistoryList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if s.history == nil {
		return nil, &RPCError{Code: InternalError, Message: "history is disabled"}
	}
	limit := defaultHistoryLimit
	if raw, ok := params["limit"]; ok {
		n, ok := raw.(float64)
		if !ok || n < 1 {
			return nil, fmt.Errorf("%w: limit must be a positive number", errInvalidParams)
		}
		limit = int(n)
	}
	runs, err := s.history.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"runs": runs}, nil
}

func (s *Server) handleGatewayClients(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"clients": s.Clients()}, nil
}

// ProcessorSnapshot is the result of the processor.* methods
type ProcessorSnapshot struct {
	State   commandqueue.ProcessorState `json:"state"`
	Current *commandqueue.CurrentItem   `json:"current,omitempty"`
	Queued  int                         `json:"queued"`
}

func (s *Server) processorSnapshot() ProcessorSnapshot {
	snap := ProcessorSnapshot{
		State:  s.processor.State(),
		Queued: s.queue.Len(),
	}
	if item, ok := s.processor.CurrentItem(); ok {
		snap.Current = &item
	}
	return snap
}

func (s *Server) audit(ctx context.Context, action, status string, meta map[string]interface{}) {
	actor := tracing.GetClientID(ctx)
	if actor == "" {
		actor = "rpc"
	}
	observability.RecordControlAudit(ctx, action, actor, status, meta)
}

func idParam(params map[string]interface{}, key string) (commandqueue.CommandID, error) {
	value, ok := params[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s parameter is required and must be a string", errInvalidParams, key)
	}
	return commandqueue.CommandID(value), nil
}

func idsParam(params map[string]interface{}, key string) ([]commandqueue.CommandID, error) {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s parameter is required and must be a list of strings", errInvalidParams, key)
	}
	ids := make([]commandqueue.CommandID, 0, len(raw))
	for _, v := range raw {
		id, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must contain only strings", errInvalidParams, key)
		}
		ids = append(ids, commandqueue.CommandID(id))
	}
	return ids, nil
}

// timeoutParam reads timeoutMs; zero or less means do not wait
func timeoutParam(params map[string]interface{}, fallback time.Duration) (time.Duration, error) {
	raw, ok := params["timeoutMs"]
	if !ok {
		return fallback, nil
	}
	ms, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: timeoutMs must be a number", errInvalidParams)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func specsParam(params map[string]interface{}) ([]commands.Spec, error) {
	raw, ok := params["spec"]
	if !ok {
		return nil, fmt.Errorf("%w: spec parameter is required", errInvalidParams)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	specs, err := commands.ParseJSON(data)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: spec list is empty", errInvalidParams)
	}
	return specs, nil
}
