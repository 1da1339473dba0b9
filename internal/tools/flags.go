package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"toolhub/internal/store"
	"toolhub/internal/util"
)

const flagBucket = "feature_flags"

// FlagsTool manages feature flags with percentage rollouts. Evaluation is
// sticky: the same (flag, subject) pair always resolves the same way.
type FlagsTool struct {
	db *store.Store
}

// NewFlagsTool constructs a feature flag tool backed by db.
func NewFlagsTool(db *store.Store) *FlagsTool {
	return &FlagsTool{db: db}
}

func (f *FlagsTool) Name() string { return "flags" }

func (f *FlagsTool) Description() string {
	return "Manages feature flags: create, enable, disable, list, and evaluate flags with sticky percentage rollouts."
}

func (f *FlagsTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"create", "enable", "disable", "evaluate", "list", "delete"},
			},
			"flag":            map[string]any{"type": "string"},
			"description":     map[string]any{"type": "string"},
			"subject":         map[string]any{"type": "string"},
			"rollout_percent": map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		},
		"required":             []string{"action"},
		"additionalProperties": false,
	}
}

type flagsInput struct {
	Action         string `json:"action"`
	Flag           string `json:"flag"`
	Description    string `json:"description"`
	Subject        string `json:"subject"`
	RolloutPercent *int   `json:"rollout_percent"`
}

// Flag is a feature flag document.
type Flag struct {
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Enabled        bool      `json:"enabled"`
	RolloutPercent int       `json:"rollout_percent"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (f *FlagsTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	var args flagsInput
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{}, err
	}

	start := time.Now()
	var payload any
	var preview string
	var err error
	switch strings.ToLower(args.Action) {
	case "create":
		payload, preview, err = f.create(args)
	case "enable":
		payload, preview, err = f.setEnabled(args.Flag, true)
	case "disable":
		payload, preview, err = f.setEnabled(args.Flag, false)
	case "evaluate":
		payload, preview, err = f.evaluate(args)
	case "list":
		payload, preview, err = f.list()
	case "delete":
		payload, preview, err = f.remove(args.Flag)
	default:
		err = fmt.Errorf("unsupported action %q", args.Action)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		ToolName:   f.Name(),
		Payload:    payload,
		Preview:    preview,
		LineCount:  strings.Count(preview, "\n") + 1,
		ByteCount:  util.JSONSize(payload),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (f *FlagsTool) create(args flagsInput) (any, string, error) {
	if args.Flag == "" {
		return nil, "", errors.New("flag is required")
	}
	rollout := 100
	if args.RolloutPercent != nil {
		rollout = *args.RolloutPercent
	}
	if rollout < 0 || rollout > 100 {
		return nil, "", errors.New("rollout_percent must be between 0 and 100")
	}
	now := time.Now().UTC()
	flag := Flag{
		Name:           args.Flag,
		Description:    args.Description,
		RolloutPercent: rollout,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.db.PutNew(flagBucket, args.Flag, flag); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, "", fmt.Errorf("flag %q already exists", args.Flag)
		}
		return nil, "", err
	}
	return flag, fmt.Sprintf("flag %q created (rollout %d%%, disabled)", args.Flag, rollout), nil
}

func (f *FlagsTool) setEnabled(name string, enabled bool) (any, string, error) {
	flag, err := f.load(name)
	if err != nil {
		return nil, "", err
	}
	flag.Enabled = enabled
	flag.UpdatedAt = time.Now().UTC()
	if err := f.db.Put(flagBucket, name, flag); err != nil {
		return nil, "", err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return flag, fmt.Sprintf("flag %q %s", name, state), nil
}

func (f *FlagsTool) evaluate(args flagsInput) (any, string, error) {
	if args.Subject == "" {
		return nil, "", errors.New("subject is required for evaluate")
	}
	flag, err := f.load(args.Flag)
	if err != nil {
		return nil, "", err
	}
	on := flag.Enabled && inRollout(flag.Name, args.Subject, flag.RolloutPercent)
	payload := map[string]any{
		"flag":    flag.Name,
		"subject": args.Subject,
		"on":      on,
	}
	return payload, fmt.Sprintf("%s for %q: %v", flag.Name, args.Subject, on), nil
}

func (f *FlagsTool) list() (any, string, error) {
	var flags []Flag
	err := f.db.List(flagBucket, func(key string, raw json.RawMessage) error {
		var flag Flag
		if err := json.Unmarshal(raw, &flag); err != nil {
			return err
		}
		flags = append(flags, flag)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if flags == nil {
		flags = []Flag{}
	}
	return flags, fmt.Sprintf("%d flag(s)", len(flags)), nil
}

func (f *FlagsTool) remove(name string) (any, string, error) {
	if name == "" {
		return nil, "", errors.New("flag is required")
	}
	if err := f.db.Delete(flagBucket, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", fmt.Errorf("flag %q not found", name)
		}
		return nil, "", err
	}
	msg := fmt.Sprintf("flag %q deleted", name)
	return map[string]string{"message": msg}, msg, nil
}

func (f *FlagsTool) load(name string) (Flag, error) {
	if name == "" {
		return Flag{}, errors.New("flag is required")
	}
	var flag Flag
	if err := f.db.Get(flagBucket, name, &flag); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Flag{}, fmt.Errorf("flag %q not found", name)
		}
		return Flag{}, err
	}
	return flag, nil
}

// inRollout buckets a subject into [0,100) by hashing flag and subject
// together, so rollouts are stable per flag without cross-flag correlation.
func inRollout(flag, subject string, percent int) bool {
	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(flag))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	return int(h.Sum32()%100) < percent
}
