package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"toolhub/internal/store"
	"toolhub/internal/util"
)

const abTestBucket = "ab_tests"

// ABTestTool manages A/B experiments: definition, lifecycle, deterministic
// user allocation, conversion tracking, and chi-squared result analysis.
type ABTestTool struct {
	db *store.Store
}

// NewABTestTool constructs an A/B testing tool backed by db.
func NewABTestTool(db *store.Store) *ABTestTool {
	return &ABTestTool{db: db}
}

func (a *ABTestTool) Name() string { return "ab_test" }

func (a *ABTestTool) Description() string {
	return "Manages A/B tests: create, start, allocate users, record conversions, and compute results with statistical significance."
}

func (a *ABTestTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"create", "start", "stop", "allocate", "convert", "results"},
			},
			"test_id": map[string]any{"type": "string"},
			"user_id": map[string]any{"type": "string"},
			"variations": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 2,
			},
			"success_metric": map[string]any{"type": "string"},
		},
		"required":             []string{"action", "test_id"},
		"additionalProperties": false,
	}
}

type abTestInput struct {
	Action        string   `json:"action"`
	TestID        string   `json:"test_id"`
	UserID        string   `json:"user_id"`
	Variations    []string `json:"variations"`
	SuccessMetric string   `json:"success_metric"`
}

// VariationStats tracks one arm of an experiment.
type VariationStats struct {
	Name        string `json:"name"`
	Users       int    `json:"users"`
	Conversions int    `json:"conversions"`
}

// ABTest is an experiment document. Variation order is fixed at creation so
// hash-based allocation stays deterministic.
type ABTest struct {
	TestID        string           `json:"test_id"`
	Variations    []VariationStats `json:"variations"`
	SuccessMetric string           `json:"success_metric"`
	Running       bool             `json:"is_running"`
	Stopped       bool             `json:"is_stopped"`
	CreatedAt     time.Time        `json:"created_at"`
}

type abResultVariation struct {
	Name           string  `json:"name"`
	Users          int     `json:"users"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate_percent"`
}

type abResults struct {
	TestID        string              `json:"test_id"`
	SuccessMetric string              `json:"success_metric"`
	Variations    []abResultVariation `json:"variations"`
	ChiSquared    *float64            `json:"chi_squared,omitempty"`
	PValue        *float64            `json:"p_value,omitempty"`
	Significant   *bool               `json:"significant,omitempty"`
	Note          string              `json:"note,omitempty"`
}

func (a *ABTestTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	var args abTestInput
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(args.TestID) == "" {
		return Result{}, errors.New("test_id is required")
	}

	start := time.Now()
	var payload any
	var preview string
	var err error
	switch strings.ToLower(args.Action) {
	case "create":
		payload, preview, err = a.create(args)
	case "start":
		payload, preview, err = a.setRunning(args.TestID, true)
	case "stop":
		payload, preview, err = a.setRunning(args.TestID, false)
	case "allocate":
		payload, preview, err = a.allocate(args)
	case "convert":
		payload, preview, err = a.convert(args)
	case "results":
		payload, preview, err = a.results(args)
	default:
		err = fmt.Errorf("unsupported action %q", args.Action)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		ToolName:   a.Name(),
		Payload:    payload,
		Preview:    preview,
		LineCount:  strings.Count(preview, "\n") + 1,
		ByteCount:  util.JSONSize(payload),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (a *ABTestTool) create(args abTestInput) (any, string, error) {
	if len(args.Variations) < 2 {
		return nil, "", errors.New("at least two variations are required")
	}
	seen := map[string]struct{}{}
	variations := make([]VariationStats, 0, len(args.Variations))
	for _, name := range args.Variations {
		if _, dup := seen[name]; dup {
			return nil, "", fmt.Errorf("duplicate variation %q", name)
		}
		seen[name] = struct{}{}
		variations = append(variations, VariationStats{Name: name})
	}
	test := ABTest{
		TestID:        args.TestID,
		Variations:    variations,
		SuccessMetric: args.SuccessMetric,
		CreatedAt:     time.Now().UTC(),
	}
	if test.SuccessMetric == "" {
		test.SuccessMetric = "conversion_rate"
	}
	if err := a.db.PutNew(abTestBucket, args.TestID, test); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, "", fmt.Errorf("A/B test %q already exists", args.TestID)
		}
		return nil, "", err
	}
	msg := fmt.Sprintf("A/B test %q created with %d variations.", args.TestID, len(variations))
	return test, msg, nil
}

func (a *ABTestTool) setRunning(testID string, running bool) (any, string, error) {
	test, err := a.load(testID)
	if err != nil {
		return nil, "", err
	}
	if running {
		if test.Stopped {
			return nil, "", fmt.Errorf("A/B test %q has been stopped and cannot be restarted", testID)
		}
		if test.Running {
			msg := fmt.Sprintf("A/B test %q is already running.", testID)
			return test, msg, nil
		}
		test.Running = true
	} else {
		test.Running = false
		test.Stopped = true
	}
	if err := a.db.Put(abTestBucket, testID, test); err != nil {
		return nil, "", err
	}
	verb := "started"
	if !running {
		verb = "stopped"
	}
	return test, fmt.Sprintf("A/B test %q %s.", testID, verb), nil
}

func (a *ABTestTool) allocate(args abTestInput) (any, string, error) {
	if args.UserID == "" {
		return nil, "", errors.New("user_id is required")
	}
	test, err := a.load(args.TestID)
	if err != nil {
		return nil, "", err
	}
	if !test.Running {
		return nil, "", fmt.Errorf("A/B test %q is not running", args.TestID)
	}
	idx := variationIndex(args.UserID, len(test.Variations))
	test.Variations[idx].Users++
	if err := a.db.Put(abTestBucket, args.TestID, test); err != nil {
		return nil, "", err
	}
	name := test.Variations[idx].Name
	payload := map[string]string{"test_id": args.TestID, "user_id": args.UserID, "variation": name}
	return payload, fmt.Sprintf("user %q -> variation %q", args.UserID, name), nil
}

func (a *ABTestTool) convert(args abTestInput) (any, string, error) {
	if args.UserID == "" {
		return nil, "", errors.New("user_id is required")
	}
	test, err := a.load(args.TestID)
	if err != nil {
		return nil, "", err
	}
	// Attribution follows the same hash as allocation, so a user converts in
	// the variation they were bucketed into.
	idx := variationIndex(args.UserID, len(test.Variations))
	test.Variations[idx].Conversions++
	if err := a.db.Put(abTestBucket, args.TestID, test); err != nil {
		return nil, "", err
	}
	name := test.Variations[idx].Name
	payload := map[string]string{"test_id": args.TestID, "user_id": args.UserID, "variation": name}
	return payload, fmt.Sprintf("conversion for %q in %q", args.UserID, name), nil
}

func (a *ABTestTool) results(args abTestInput) (any, string, error) {
	test, err := a.load(args.TestID)
	if err != nil {
		return nil, "", err
	}
	out := abResults{TestID: test.TestID, SuccessMetric: test.SuccessMetric}
	for _, v := range test.Variations {
		rate := 0.0
		if v.Users > 0 {
			rate = float64(v.Conversions) / float64(v.Users) * 100
		}
		out.Variations = append(out.Variations, abResultVariation{
			Name:           v.Name,
			Users:          v.Users,
			Conversions:    v.Conversions,
			ConversionRate: round2(rate),
		})
	}

	stat, p, ok := chiSquared(test.Variations)
	if ok {
		sig := p < 0.05
		out.ChiSquared = &stat
		out.PValue = &p
		out.Significant = &sig
	} else {
		out.Note = "not enough data in every variation for a significance test"
	}

	preview := fmt.Sprintf("%s: %d variations", test.TestID, len(out.Variations))
	if out.PValue != nil {
		preview = fmt.Sprintf("%s, p=%.4f", preview, *out.PValue)
	}
	return out, preview, nil
}

func (a *ABTestTool) load(testID string) (ABTest, error) {
	var test ABTest
	if err := a.db.Get(abTestBucket, testID, &test); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ABTest{}, fmt.Errorf("A/B test %q not found", testID)
		}
		return ABTest{}, err
	}
	return test, nil
}

// variationIndex buckets a user deterministically: the same user always
// lands in the same variation.
func variationIndex(userID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}

// chiSquared runs a Pearson chi-squared test on the conversions vs
// non-conversions contingency table. It reports ok=false when any expected
// cell count is zero, which makes the statistic undefined.
func chiSquared(variations []VariationStats) (stat, p float64, ok bool) {
	rows := len(variations)
	if rows < 2 {
		return 0, 0, false
	}
	var totalUsers, totalConv int
	for _, v := range variations {
		if v.Conversions > v.Users {
			return 0, 0, false
		}
		totalUsers += v.Users
		totalConv += v.Conversions
	}
	totalNon := totalUsers - totalConv
	if totalUsers == 0 || totalConv == 0 || totalNon == 0 {
		return 0, 0, false
	}
	for _, v := range variations {
		if v.Users == 0 {
			return 0, 0, false
		}
		expConv := float64(v.Users) * float64(totalConv) / float64(totalUsers)
		expNon := float64(v.Users) * float64(totalNon) / float64(totalUsers)
		obsConv := float64(v.Conversions)
		obsNon := float64(v.Users - v.Conversions)
		stat += (obsConv - expConv) * (obsConv - expConv) / expConv
		stat += (obsNon - expNon) * (obsNon - expNon) / expNon
	}
	dof := float64(rows - 1)
	dist := distuv.ChiSquared{K: dof}
	p = dist.Survival(stat)
	return stat, p, true
}
