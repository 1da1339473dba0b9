package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"toolhub/internal/events"
	"toolhub/internal/version"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Intent is a recognized direct-dispatch request.
type Intent struct {
	Tool string
	Args json.RawMessage
}

var convertPattern = regexp.MustCompile(`(?i)^convert\s+(-?\d+(?:\.\d+)?)\s+([a-z_ ]+?)\s+(?:to|into)\s+([a-z_ ]+)$`)
var forecastPattern = regexp.MustCompile(`(?i)^forecast\s+([a-z0-9_-]+)(?:\s+(\d+))?$`)
var routePattern = regexp.MustCompile(`(?i)^plan\s+route\s*:?\s+(.+)$`)
var flagPattern = regexp.MustCompile(`(?i)^(enable|disable)\s+flag\s+([a-z0-9_.-]+)$`)

// Dispatch matches a question against known direct intents. It returns
// false when the question needs the model loop.
func Dispatch(question string) (Intent, bool) {
	q := strings.TrimSpace(question)

	if m := convertPattern.FindStringSubmatch(q); m != nil {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Intent{}, false
		}
		args, _ := json.Marshal(map[string]any{
			"action":    "convert",
			"value":     value,
			"from_unit": strings.TrimSpace(m[2]),
			"to_unit":   strings.TrimSpace(m[3]),
		})
		return Intent{Tool: "convert", Args: args}, true
	}

	if m := forecastPattern.FindStringSubmatch(q); m != nil {
		steps := 5
		if m[2] != "" {
			if n, err := strconv.Atoi(m[2]); err == nil {
				steps = n
			}
		}
		args, _ := json.Marshal(map[string]any{
			"action":     "forecast",
			"model_name": m[1],
			"steps":      steps,
		})
		return Intent{Tool: "forecast", Args: args}, true
	}

	if m := routePattern.FindStringSubmatch(q); m != nil {
		var stops []string
		for _, part := range strings.Split(m[1], ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				stops = append(stops, part)
			}
		}
		if len(stops) < 2 {
			return Intent{}, false
		}
		args, _ := json.Marshal(map[string]any{
			"operation":   "optimize_route",
			"route_id":    "RT-" + uuid.NewString()[:8],
			"origin":      stops[0],
			"destination": stops[len(stops)-1],
			"waypoints":   stops[1 : len(stops)-1],
		})
		return Intent{Tool: "route_plan", Args: args}, true
	}

	if m := flagPattern.FindStringSubmatch(q); m != nil {
		args, _ := json.Marshal(map[string]any{
			"action": strings.ToLower(m[1]),
			"flag":   m[2],
		})
		return Intent{Tool: "flags", Args: args}, true
	}

	return Intent{}, false
}

// RunDirect executes a dispatched intent without the model loop.
func (a *Agent) RunDirect(ctx context.Context, question string, intent Intent) (RunResult, error) {
	started := time.Now()
	runID := uuid.NewString()
	result := RunResult{
		RunID:     runID,
		StartedAt: started,
		Question:  question,
		Model:     "direct",
		Status:    "failure",
	}

	emit := func(event events.Event) {
		result.Events = append(result.Events, event)
		if a.renderer != nil {
			a.renderer.Emit(event)
		}
	}

	emit(events.Event{Type: events.RunStarted, Timestamp: time.Now(), Payload: events.RunStartedPayload{
		Version:   version.Version,
		Model:     "direct",
		RunID:     runID,
		Tools:     []string{intent.Tool},
		StartedAt: started,
	}})

	tool, ok := a.tools.Get(intent.Tool)
	if !ok {
		err := fmt.Errorf("unknown tool: %s", intent.Tool)
		emit(events.Event{Type: events.RunError, Timestamp: time.Now(), Payload: events.RunErrorPayload{Message: err.Error()}})
		result.FinishedAt = time.Now()
		return result, err
	}

	start := time.Now()
	emit(events.Event{Type: events.ToolCallStarted, Timestamp: start, Payload: events.ToolCallStartedPayload{ToolName: intent.Tool, Input: sanitizeInput(intent.Args), StartedAt: start}})
	res, err := tool.Execute(ctx, intent.Args, a.metaFor(intent.Tool))
	duration := time.Since(start).Milliseconds()
	if err != nil {
		a.logger.Error("direct tool call failed", zap.String("tool", intent.Tool), zap.Error(err))
		emit(events.Event{Type: events.ToolCallFailed, Timestamp: time.Now(), Payload: events.ToolCallFinishedPayload{ToolName: intent.Tool, Status: "error", Preview: err.Error(), DurationMs: duration, LineCount: 1, ByteCount: len(err.Error())}})
		result.ToolCalls = append(result.ToolCalls, ToolCallRecord{ToolName: intent.Tool, Input: sanitizeInput(intent.Args), Output: map[string]string{"error": err.Error()}, Status: "error", StartedAt: start, DurationMs: duration})
		result.FinishedAt = time.Now()
		return result, err
	}
	res.DurationMs = duration
	result.ToolCalls = append(result.ToolCalls, ToolCallRecord{ToolName: intent.Tool, Input: sanitizeInput(intent.Args), Output: res.Payload, Status: "success", StartedAt: start, DurationMs: duration})
	emit(events.Event{Type: events.ToolCallFinished, Timestamp: time.Now(), Payload: events.ToolCallFinishedPayload{
		ToolName:   intent.Tool,
		Status:     "success",
		Output:     res.Payload,
		Preview:    res.Preview,
		LineCount:  res.LineCount,
		ByteCount:  res.ByteCount,
		Truncated:  res.Truncated,
		DurationMs: duration,
	}})

	answer := res.Preview
	if answer == "" {
		if bytes, err := json.MarshalIndent(res.Payload, "", "  "); err == nil {
			answer = string(bytes)
		}
	}
	answer = fmt.Sprintf("%s [tool:%s]", strings.TrimSpace(answer), intent.Tool)

	result.FinalAnswer = answer
	result.Status = "success"
	result.StepsUsed = 1
	result.FinishedAt = time.Now()
	emit(events.Event{Type: events.FinalAnswerReady, Timestamp: time.Now(), Payload: events.FinalAnswerPayload{Answer: answer}})
	emit(events.Event{Type: events.RunFinished, Timestamp: time.Now(), Payload: events.RunFinishedPayload{Status: result.Status, FinishedAt: result.FinishedAt}})
	return result, nil
}
