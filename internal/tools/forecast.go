package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"toolhub/internal/arima"
	"toolhub/internal/store"
	"toolhub/internal/util"
)

const forecastBucket = "forecast_models"

// ForecastTool trains and queries ARIMA models by name. Fitted models live
// in memory; save_model and load_model move them through the shared store.
type ForecastTool struct {
	mu     sync.Mutex
	models map[string]*arima.Model
	series map[string][]float64
	db     *store.Store
}

// NewForecastTool constructs a forecasting tool backed by db.
func NewForecastTool(db *store.Store) *ForecastTool {
	return &ForecastTool{models: map[string]*arima.Model{}, series: map[string][]float64{}, db: db}
}

func (f *ForecastTool) Name() string { return "forecast" }

func (f *ForecastTool) Description() string {
	return "Performs time series forecasting (training, prediction, evaluation) using ARIMA models."
}

func (f *ForecastTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"train", "forecast", "evaluate", "find_best_order", "save_model", "load_model"},
			},
			"model_name": map[string]any{"type": "string"},
			"data": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "number"},
			},
			"steps": map[string]any{"type": "integer", "minimum": 1},
			"order": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "integer", "minimum": 0},
				"minItems": 3,
				"maxItems": 3,
			},
			"max_p": map[string]any{"type": "integer", "minimum": 0},
			"max_d": map[string]any{"type": "integer", "minimum": 0},
			"max_q": map[string]any{"type": "integer", "minimum": 0},
		},
		"required":             []string{"action", "model_name"},
		"additionalProperties": false,
	}
}

type forecastInput struct {
	Action    string    `json:"action"`
	ModelName string    `json:"model_name"`
	Data      []float64 `json:"data"`
	Steps     int       `json:"steps"`
	Order     []int     `json:"order"`
	MaxP      *int      `json:"max_p"`
	MaxD      *int      `json:"max_d"`
	MaxQ      *int      `json:"max_q"`
}

type trainOutput struct {
	Message string      `json:"message"`
	Order   arima.Order `json:"order"`
	AIC     float64     `json:"aic"`
	Sigma2  float64     `json:"sigma2"`
	NObs    int         `json:"n_obs"`
}

type forecastOutput struct {
	Forecast []float64 `json:"forecast"`
	Lower    []float64 `json:"confidence_lower"`
	Upper    []float64 `json:"confidence_upper"`
}

type evaluateOutput struct {
	MeanSquaredError  float64 `json:"mean_squared_error"`
	MeanAbsoluteError float64 `json:"mean_absolute_error"`
	Steps             int     `json:"steps"`
}

type bestOrderOutput struct {
	BestOrder arima.Order `json:"best_order"`
	BestAIC   float64     `json:"best_aic"`
	Message   string      `json:"message"`
}

func (f *ForecastTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	var args forecastInput
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(args.ModelName) == "" {
		return Result{}, errors.New("model_name is required")
	}

	start := time.Now()
	var payload any
	var preview string
	var err error

	switch strings.ToLower(args.Action) {
	case "train":
		payload, preview, err = f.train(args)
	case "forecast":
		payload, preview, err = f.forecast(args)
	case "evaluate":
		payload, preview, err = f.evaluate(args)
	case "find_best_order":
		payload, preview, err = f.findBestOrder(args)
	case "save_model":
		payload, preview, err = f.saveModel(args)
	case "load_model":
		payload, preview, err = f.loadModel(args)
	default:
		err = fmt.Errorf("invalid action %q: supported actions are train, forecast, evaluate, find_best_order, save_model, load_model", args.Action)
	}
	if err != nil {
		return Result{}, err
	}

	duration := time.Since(start).Milliseconds()
	return Result{
		ToolName:   f.Name(),
		Payload:    payload,
		Preview:    preview,
		LineCount:  strings.Count(preview, "\n") + 1,
		ByteCount:  util.JSONSize(payload),
		DurationMs: duration,
	}, nil
}

func (f *ForecastTool) train(args forecastInput) (any, string, error) {
	if len(args.Data) == 0 {
		return nil, "", errors.New("data is required for train")
	}
	order := arima.Order{P: 5, D: 1, Q: 0}
	if len(args.Order) == 3 {
		order = arima.Order{P: args.Order[0], D: args.Order[1], Q: args.Order[2]}
	}
	model, err := arima.Fit(args.Data, order)
	if err != nil {
		return nil, "", err
	}
	f.mu.Lock()
	f.models[args.ModelName] = model
	f.series[args.ModelName] = append([]float64(nil), args.Data...)
	f.mu.Unlock()
	out := trainOutput{
		Message: fmt.Sprintf("Model %q (ARIMA%s) trained successfully.", args.ModelName, order),
		Order:   order,
		AIC:     model.AIC,
		Sigma2:  model.Sigma2,
		NObs:    model.NObs,
	}
	return out, out.Message, nil
}

func (f *ForecastTool) forecast(args forecastInput) (any, string, error) {
	if args.Steps <= 0 {
		return nil, "", errors.New("steps must be positive for forecast")
	}
	model, err := f.getModel(args.ModelName)
	if err != nil {
		return nil, "", err
	}
	fc, err := model.Predict(args.Steps)
	if err != nil {
		return nil, "", err
	}
	out := forecastOutput{Forecast: fc.Mean, Lower: fc.Lower, Upper: fc.Upper}
	preview := fmt.Sprintf("%d-step forecast for %q: first=%.4f last=%.4f", args.Steps, args.ModelName, fc.Mean[0], fc.Mean[len(fc.Mean)-1])
	return out, preview, nil
}

func (f *ForecastTool) evaluate(args forecastInput) (any, string, error) {
	if args.Steps <= 0 {
		return nil, "", errors.New("steps must be positive for evaluate")
	}
	model, err := f.getModel(args.ModelName)
	if err != nil {
		return nil, "", err
	}
	data := args.Data
	if len(data) == 0 {
		f.mu.Lock()
		data = f.series[args.ModelName]
		f.mu.Unlock()
	}
	if len(data) == 0 {
		return nil, "", errors.New("data is required for evaluate")
	}
	mse, mae, err := arima.Evaluate(data, model.Order, args.Steps)
	if err != nil {
		return nil, "", err
	}
	out := evaluateOutput{MeanSquaredError: mse, MeanAbsoluteError: mae, Steps: args.Steps}
	preview := fmt.Sprintf("holdout over %d steps: mse=%.4f mae=%.4f", args.Steps, mse, mae)
	return out, preview, nil
}

func (f *ForecastTool) findBestOrder(args forecastInput) (any, string, error) {
	if len(args.Data) == 0 {
		return nil, "", errors.New("data is required for find_best_order")
	}
	maxP, maxD, maxQ := 2, 1, 2
	if args.MaxP != nil {
		maxP = *args.MaxP
	}
	if args.MaxD != nil {
		maxD = *args.MaxD
	}
	if args.MaxQ != nil {
		maxQ = *args.MaxQ
	}
	model, err := arima.SearchOrder(args.Data, maxP, maxD, maxQ)
	if err != nil {
		return nil, "", err
	}
	f.mu.Lock()
	f.models[args.ModelName] = model
	f.series[args.ModelName] = append([]float64(nil), args.Data...)
	f.mu.Unlock()
	out := bestOrderOutput{
		BestOrder: model.Order,
		BestAIC:   model.AIC,
		Message:   fmt.Sprintf("Model %q has been trained with order %s.", args.ModelName, model.Order),
	}
	return out, out.Message, nil
}

func (f *ForecastTool) saveModel(args forecastInput) (any, string, error) {
	model, err := f.getModel(args.ModelName)
	if err != nil {
		return nil, "", err
	}
	if err := f.db.Put(forecastBucket, args.ModelName, model); err != nil {
		return nil, "", err
	}
	msg := fmt.Sprintf("Model %q saved.", args.ModelName)
	return map[string]string{"message": msg}, msg, nil
}

func (f *ForecastTool) loadModel(args forecastInput) (any, string, error) {
	var model arima.Model
	if err := f.db.Get(forecastBucket, args.ModelName, &model); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", fmt.Errorf("no saved model named %q", args.ModelName)
		}
		return nil, "", err
	}
	f.mu.Lock()
	f.models[args.ModelName] = &model
	f.mu.Unlock()
	msg := fmt.Sprintf("Model %q loaded.", args.ModelName)
	return map[string]string{"message": msg}, msg, nil
}

func (f *ForecastTool) getModel(name string) (*arima.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	model, ok := f.models[name]
	if !ok {
		return nil, fmt.Errorf("model %q not found; train or load it first", name)
	}
	return model, nil
}
