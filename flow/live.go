package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
)

// Function names with live-turn lifecycle semantics.
const (
	taskCompletedFunctionName   = "task_completed"
	transferToAgentFunctionName = "transfer_to_agent"
)

// LiveFlowOptions configures a LiveFlow.
type LiveFlowOptions struct {
	// Config tunes queue polling and turn lifecycle timings.
	Config LiveFlowConfig
	// ControlEvents maps model control signals to cache flush behavior.
	ControlEvents ControlEventConfig
}

// LiveFlow drives a bidirectional streaming turn against a LiveModel. It
// pumps client requests from the invocation's LiveRequestQueue to the model
// connection and model responses back as events, buffering streamed audio in
// the invocation's caches and persisting it on control-event boundaries.
type LiveFlow struct {
	agent             FlowAgent
	config            LiveFlowConfig
	controlEvents     ControlEventConfig
	cacheManager      *AudioCacheManager
	transcriptions    *TranscriptionManager
	requestProcessors []RequestProcessor
}

// NewLiveFlow creates a live flow for the given agent.
func NewLiveFlow(agent FlowAgent, optFns ...func(o *LiveFlowOptions)) *LiveFlow {
	opts := LiveFlowOptions{
		Config:        DefaultLiveFlowConfig(),
		ControlEvents: DefaultControlEventConfig(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &LiveFlow{
		agent:          agent,
		config:         opts.Config,
		controlEvents:  opts.ControlEvents,
		cacheManager:   NewAudioCacheManager(opts.Config.AudioCache),
		transcriptions: NewTranscriptionManager(),
		requestProcessors: []RequestProcessor{
			NewInstructionsProcessor(),
			NewContentsProcessor(),
		},
	}
}

// Execute opens a live connection and returns a channel of events describing
// the turn. The channel closes when the client sends a close request, the
// model ends the turn, or an unrecoverable error occurs.
func (f *LiveFlow) Execute(invCtx *core.InvocationContext) (<-chan core.Event, error) {
	queue := invCtx.LiveRequestQueue
	if queue == nil {
		return nil, errors.New("live flow requires a live request queue")
	}

	liveModel, ok := f.agent.GetLLM().(model.LiveModel)
	if !ok {
		return nil, fmt.Errorf("model %s does not support live connections", f.agent.GetLLM().Info().Name)
	}

	req := new(model.Request)
	req.Stream = true

	for _, processor := range f.requestProcessors {
		if err := processor.ProcessRequest(invCtx, req, f.agent); err != nil {
			return nil, fmt.Errorf("request processor %s failed: %w", processor.Name(), err)
		}
	}

	conn, err := liveModel.Connect(invCtx.Context, *req)
	if err != nil {
		return nil, fmt.Errorf("live connect failed: %w", err)
	}

	invCtx.LogInfo("flow.live.connected", "agent", f.agent.GetName(), "model", liveModel.Info().Name)

	eventChan := make(chan core.Event, 100)

	go f.run(invCtx, conn, queue, eventChan)

	return eventChan, nil
}

// run owns the two pump loops and the final cleanup. The loops share
// lifetime: either side ending cancels the other.
func (f *LiveFlow) run(invCtx *core.InvocationContext, conn model.Connection, queue *core.LiveRequestQueue, eventChan chan<- core.Event) {
	defer close(eventChan)

	pumpCtx, cancel := context.WithCancel(invCtx.Context)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		f.sendLoop(pumpCtx, invCtx, conn, queue)
	}()

	fatalErr := f.receiveLoop(pumpCtx, invCtx, conn, eventChan)

	cancel()
	_ = conn.Close()
	wg.Wait()

	// Final flush so buffered audio survives the end of the turn, whatever
	// the reason for it.
	report := f.cacheManager.FlushCaches(invCtx, FlushSettings{UserAudio: true, ModelAudio: true})
	f.logStats(invCtx)

	invCtx.LogDebug(
		"flow.live.finished",
		"agent", f.agent.GetName(),
		"input_flush", string(report.Input.Outcome),
		"output_flush", string(report.Output.Outcome),
		"fatal", fatalErr != nil,
	)

	if fatalErr != nil && !errors.Is(fatalErr, context.Canceled) {
		ev := core.NewEvent(invCtx.InvocationID, "system")
		msg := fatalErr.Error()
		ev.ErrorMessage = &msg

		select {
		case eventChan <- ev:
		default:
		}
	}
}

// sendLoop pumps client requests from the queue to the model connection.
// Each poll is bounded so the loop observes cancellation between requests.
func (f *LiveFlow) sendLoop(ctx context.Context, invCtx *core.InvocationContext, conn model.Connection, queue *core.LiveRequestQueue) {
	inputBlobSeq := 0

	for {
		if ctx.Err() != nil {
			return
		}

		pollCtx, cancelPoll := context.WithTimeout(ctx, f.config.RequestQueueTimeout)
		req, err := queue.Get(pollCtx)
		cancelPoll()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				continue
			}

			return
		}

		switch {
		case req.Close:
			invCtx.LogDebug("flow.live.close_requested", "agent", f.agent.GetName())
			_ = conn.Close()

			return
		case req.Blob != nil:
			if req.Blob.IsAudio() {
				f.cacheManager.CacheInputAudio(invCtx, *req.Blob)
			}

			if invCtx.RunConfig.SaveInputBlobsAsArtifacts && invCtx.ArtifactService != nil {
				name := fmt.Sprintf("live_input_%d", inputBlobSeq)
				inputBlobSeq++

				if _, err := invCtx.SaveArtifact(name, *req.Blob); err != nil {
					invCtx.LogWarn("flow.live.save_input_blob_failed", "name", name, "error", err.Error())
				}
			}

			if err := conn.SendRealtime(ctx, *req.Blob); err != nil {
				invCtx.LogError("flow.live.send_realtime_failed", "error", err.Error())
				return
			}
		case req.Content != nil:
			if err := conn.SendContent(ctx, *req.Content); err != nil {
				invCtx.LogError("flow.live.send_content_failed", "error", err.Error())
				return
			}
		case req.ActivityStart:
			if err := conn.SendActivityStart(ctx); err != nil {
				invCtx.LogError("flow.live.send_activity_start_failed", "error", err.Error())
				return
			}
		case req.ActivityEnd:
			if err := conn.SendActivityEnd(ctx); err != nil {
				invCtx.LogError("flow.live.send_activity_end_failed", "error", err.Error())
				return
			}
		}
	}
}

// receiveLoop pumps model responses to the caller until the stream ends. A
// nil return means the turn ended cleanly.
func (f *LiveFlow) receiveLoop(ctx context.Context, invCtx *core.InvocationContext, conn model.Connection, eventChan chan<- core.Event) error {
	respCh, errCh := conn.Receive(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}

			if err != nil {
				return fmt.Errorf("live stream failed: %w", err)
			}
		case resp, ok := <-respCh:
			if !ok {
				// The stream can close with a terminal error still buffered.
				if errCh != nil {
					select {
					case err, eok := <-errCh:
						if eok && err != nil {
							return fmt.Errorf("live stream failed: %w", err)
						}
					default:
					}
				}

				return nil
			}

			end, err := f.handleResponse(invCtx, resp, eventChan)
			if err != nil {
				return err
			}

			if end {
				return nil
			}
		}
	}
}

// handleResponse processes one model response in arrival order:
// transcriptions, audio, remaining content, then control flags. It reports
// end=true when the response carries a turn-ending function call.
func (f *LiveFlow) handleResponse(invCtx *core.InvocationContext, resp model.LiveResponse, eventChan chan<- core.Event) (bool, error) {
	if resp.ErrorCode != "" || resp.ErrorMessage != "" {
		return false, fmt.Errorf("live stream error %s: %s", resp.ErrorCode, resp.ErrorMessage)
	}

	if resp.InputTranscription != nil {
		// Transient failure, already logged; the stream continues.
		_ = f.transcriptions.HandleInput(invCtx, *resp.InputTranscription)
	}

	if resp.OutputTranscription != nil {
		_ = f.transcriptions.HandleOutput(invCtx, *resp.OutputTranscription)
	}

	var (
		endTurn bool
		delay   time.Duration
	)

	if resp.Content != nil && len(resp.Content.Parts) > 0 {
		rest := make([]core.Part, 0, len(resp.Content.Parts))

		for _, part := range resp.Content.Parts {
			bp, ok := part.(core.BlobPart)
			if ok && bp.Blob.IsAudio() {
				f.cacheManager.CacheOutputAudio(invCtx, bp.Blob)

				// Audio chunks reach the caller as transient events; the
				// cache flush is what persists them.
				ev := core.NewEvent(invCtx.InvocationID, f.agent.GetName())
				partial := true
				ev.Partial = &partial
				ev.Content = &core.Content{Role: resp.Content.Role, Parts: []core.Part{bp}}

				if err := f.emit(invCtx, eventChan, ev); err != nil {
					return false, err
				}

				continue
			}

			rest = append(rest, part)
		}

		if len(rest) > 0 {
			ev := core.NewEvent(invCtx.InvocationID, f.agent.GetName())
			partial := resp.Partial
			ev.Partial = &partial
			ev.Content = &core.Content{Role: resp.Content.Role, Parts: rest}

			for _, fc := range ev.GetFunctionCalls() {
				switch fc.Name {
				case taskCompletedFunctionName:
					endTurn = true
					delay = f.config.TaskCompletionDelay
					invCtx.LogInfo("flow.live.task_completed", "agent", f.agent.GetName())
				case transferToAgentFunctionName:
					if target := transferTarget(fc.Arguments); target != "" {
						ev.Actions.TransferToAgent = &target
					}

					endTurn = true
					delay = f.config.TransferAgentDelay
					invCtx.LogInfo("flow.live.transfer_requested", "agent", f.agent.GetName())
				}
			}

			if err := f.emit(invCtx, eventChan, ev); err != nil {
				return false, err
			}
		}
	}

	if signal := resp.ControlSignal(); signal != model.ControlSignalNone {
		settings := f.controlEvents.GetFlushSettings(signal)
		f.cacheManager.FlushCaches(invCtx, settings)
		f.logStats(invCtx)

		boundary := core.NewEvent(invCtx.InvocationID, f.agent.GetName())
		partial := false
		boundary.Partial = &partial
		boundary.Interrupted = resp.Interrupted
		boundary.TurnComplete = resp.TurnComplete
		boundary.GenerationComplete = resp.GenerationComplete

		if err := f.emit(invCtx, eventChan, boundary); err != nil {
			return false, err
		}
	}

	if endTurn {
		// Grace period so trailing audio and control events can drain.
		sleepCtx(invCtx.Context, delay)
		return true, nil
	}

	return false, nil
}

// emit sends an event to the caller and, for non-partial events, waits for
// the engine's persistence handshake.
func (f *LiveFlow) emit(invCtx *core.InvocationContext, eventChan chan<- core.Event, ev core.Event) error {
	select {
	case <-invCtx.Context.Done():
		return invCtx.Context.Err()
	case eventChan <- ev:
	}

	if !ev.IsPartial() && invCtx.Resume != nil {
		select {
		case <-invCtx.Context.Done():
			return invCtx.Context.Err()
		case <-invCtx.Resume:
		}
	}

	return nil
}

// logStats logs a cache snapshot when statistics are enabled.
func (f *LiveFlow) logStats(invCtx *core.InvocationContext) {
	if !f.config.EnableCacheStatistics {
		return
	}

	stats := f.cacheManager.Stats(invCtx)
	invCtx.LogDebug(
		"flow.audio_cache.stats",
		"input_chunks", stats.InputChunks,
		"output_chunks", stats.OutputChunks,
		"input_bytes", stats.InputBytes,
		"output_bytes", stats.OutputBytes,
		"total_chunks", stats.TotalChunks,
		"total_bytes", stats.TotalBytes,
	)
}

// transferTarget extracts the target agent name from transfer_to_agent
// arguments.
func transferTarget(args string) string {
	if args == "" {
		return ""
	}

	var parsed struct {
		Agent string `json:"agent"`
	}
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return ""
	}

	return parsed.Agent
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
