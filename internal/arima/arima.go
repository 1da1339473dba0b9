// Package arima fits ARIMA(p,d,q) models to univariate series and produces
// multi-step forecasts with confidence intervals.
//
// Estimation uses the Hannan-Rissanen procedure: a long autoregression
// approximates the innovations, then the AR and MA coefficients are obtained
// from a single least-squares regression on lagged values and lagged
// innovations. This avoids iterative likelihood optimization while staying
// close to the CSS fit for the well-behaved series this service sees.
package arima

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Order is the (p,d,q) specification of a model.
type Order struct {
	P int `json:"p"`
	D int `json:"d"`
	Q int `json:"q"`
}

func (o Order) String() string { return fmt.Sprintf("(%d,%d,%d)", o.P, o.D, o.Q) }

// Model is a fitted ARIMA model. All fields are exported so a model can be
// persisted as a plain JSON document and reloaded later.
type Model struct {
	Order     Order     `json:"order"`
	AR        []float64 `json:"ar"`
	MA        []float64 `json:"ma"`
	Mean      float64   `json:"mean"`
	Sigma2    float64   `json:"sigma2"`
	AIC       float64   `json:"aic"`
	NObs      int       `json:"n_obs"`
	Tail      []float64 `json:"tail"`       // last d+p original observations
	DiffTail  []float64 `json:"diff_tail"`  // last p values of the differenced series
	ResidTail []float64 `json:"resid_tail"` // last q in-sample innovations
}

// Forecast holds point forecasts and symmetric ~95% intervals.
type Forecast struct {
	Mean  []float64 `json:"mean"`
	Lower []float64 `json:"lower"`
	Upper []float64 `json:"upper"`
}

var errTooShort = errors.New("arima: series too short for requested order")

// Fit estimates an ARIMA model of the given order.
func Fit(series []float64, order Order) (*Model, error) {
	if order.P < 0 || order.D < 0 || order.Q < 0 {
		return nil, errors.New("arima: order components must be non-negative")
	}
	w := difference(series, order.D)
	minLen := order.P + order.Q + order.D + 2
	if len(series) < minLen || len(w) <= order.P+order.Q {
		return nil, fmt.Errorf("%w: need more than %d points for order %s", errTooShort, minLen, order)
	}

	mean := meanOf(w)
	z := make([]float64, len(w))
	for i, v := range w {
		z[i] = v - mean
	}

	var ar, ma []float64
	var resid []float64
	var err error
	switch {
	case allNearZero(z):
		// A constant series differences to zero everywhere. The regression
		// matrix is singular, so fit zero coefficients directly.
		ar = make([]float64, order.P)
		ma = make([]float64, order.Q)
		resid = append([]float64(nil), z...)
	case order.Q == 0:
		ar, resid, err = fitAR(z, order.P)
	default:
		ar, ma, resid, err = fitARMA(z, order.P, order.Q)
	}
	if err != nil {
		return nil, err
	}

	nEff := len(resid)
	if nEff == 0 {
		return nil, errTooShort
	}
	var ssr float64
	for _, e := range resid {
		ssr += e * e
	}
	sigma2 := ssr / float64(nEff)
	if sigma2 <= 0 {
		sigma2 = 1e-12
	}
	k := float64(order.P + order.Q + 1)
	aic := float64(nEff)*math.Log(sigma2) + 2*k

	m := &Model{
		Order:  order,
		AR:     ar,
		MA:     ma,
		Mean:   mean,
		Sigma2: sigma2,
		AIC:    aic,
		NObs:   len(series),
	}
	m.Tail = tailOf(series, order.D+order.P)
	m.DiffTail = tailOf(z, order.P)
	m.ResidTail = tailOf(resid, order.Q)
	return m, nil
}

// Predict forecasts steps values past the end of the training series.
func (m *Model) Predict(steps int) (Forecast, error) {
	if steps <= 0 {
		return Forecast{}, errors.New("arima: steps must be positive")
	}

	// Forecast the centered differenced process recursively. MA terms use
	// known in-sample innovations; future innovations are zero in expectation.
	hist := append([]float64(nil), m.DiffTail...)
	resid := append([]float64(nil), m.ResidTail...)
	zf := make([]float64, 0, steps)
	for k := 0; k < steps; k++ {
		var v float64
		for i, phi := range m.AR {
			idx := len(hist) - 1 - i
			if idx >= 0 {
				v += phi * hist[idx]
			}
		}
		for j, theta := range m.MA {
			idx := len(resid) - 1 - j
			if idx >= 0 {
				v += theta * resid[idx]
			}
		}
		hist = append(hist, v)
		resid = append(resid, 0)
		zf = append(zf, v)
	}

	// Undo centering, then integrate the d differences back using the last
	// observed values of each differencing level.
	point := make([]float64, steps)
	for i, v := range zf {
		point[i] = v + m.Mean
	}
	levels := diffLevels(m.Tail, m.Order.D)
	for d := m.Order.D - 1; d >= 0; d-- {
		last := levels[d][len(levels[d])-1]
		for i := range point {
			last += point[i]
			point[i] = last
		}
	}

	psi := m.psiWeights(steps)
	lower := make([]float64, steps)
	upper := make([]float64, steps)
	var cum float64
	for k := 0; k < steps; k++ {
		cum += psi[k] * psi[k]
		se := math.Sqrt(m.Sigma2 * cum)
		lower[k] = point[k] - 1.96*se
		upper[k] = point[k] + 1.96*se
	}
	return Forecast{Mean: point, Lower: lower, Upper: upper}, nil
}

// psiWeights expands the model into its MA(inf) representation. For d > 0 the
// weights of the integrated process are running partial sums per difference.
func (m *Model) psiWeights(n int) []float64 {
	psi := make([]float64, n)
	for j := 0; j < n; j++ {
		var v float64
		if j == 0 {
			v = 1
		} else {
			if j-1 < len(m.MA) {
				v = m.MA[j-1]
			}
			for i, phi := range m.AR {
				if j-1-i >= 0 {
					v += phi * psi[j-1-i]
				}
			}
		}
		psi[j] = v
	}
	for d := 0; d < m.Order.D; d++ {
		for j := 1; j < n; j++ {
			psi[j] += psi[j-1]
		}
	}
	return psi
}

// SearchOrder fits every order in the grid and returns the model with the
// lowest AIC. Orders that fail to fit are skipped.
func SearchOrder(series []float64, maxP, maxD, maxQ int) (*Model, error) {
	var best *Model
	for p := 0; p <= maxP; p++ {
		for d := 0; d <= maxD; d++ {
			for q := 0; q <= maxQ; q++ {
				if p == 0 && q == 0 {
					continue
				}
				m, err := Fit(series, Order{P: p, D: d, Q: q})
				if err != nil {
					continue
				}
				if best == nil || m.AIC < best.AIC {
					best = m
				}
			}
		}
	}
	if best == nil {
		return nil, errors.New("arima: no order in the grid produced a fit")
	}
	return best, nil
}

// Evaluate holds out the last steps points, refits on the prefix, and
// reports forecast error against the held-out tail.
func Evaluate(series []float64, order Order, steps int) (mse, mae float64, err error) {
	if steps <= 0 {
		return 0, 0, errors.New("arima: steps must be positive")
	}
	if len(series) <= steps {
		return 0, 0, errors.New("arima: evaluation requires more data points than forecast steps")
	}
	train, test := series[:len(series)-steps], series[len(series)-steps:]
	m, err := Fit(train, order)
	if err != nil {
		return 0, 0, err
	}
	fc, err := m.Predict(steps)
	if err != nil {
		return 0, 0, err
	}
	for i := range test {
		diff := fc.Mean[i] - test[i]
		mse += diff * diff
		mae += math.Abs(diff)
	}
	mse /= float64(steps)
	mae /= float64(steps)
	return mse, mae, nil
}

// fitAR estimates a pure AR(p) by least squares and returns coefficients and
// in-sample residuals. p == 0 degenerates to the mean model.
func fitAR(z []float64, p int) (ar, resid []float64, err error) {
	if p == 0 {
		return nil, append([]float64(nil), z...), nil
	}
	n := len(z) - p
	if n <= p {
		return nil, nil, errTooShort
	}
	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for t := 0; t < n; t++ {
		for i := 0; i < p; i++ {
			x.Set(t, i, z[t+p-1-i])
		}
		y.SetVec(t, z[t+p])
	}
	coef, err := solveLS(x, y)
	if err != nil {
		return nil, nil, err
	}
	resid = make([]float64, n)
	for t := 0; t < n; t++ {
		pred := 0.0
		for i := 0; i < p; i++ {
			pred += coef[i] * z[t+p-1-i]
		}
		resid[t] = z[t+p] - pred
	}
	return coef, resid, nil
}

// fitARMA runs the two-stage Hannan-Rissanen regression.
func fitARMA(z []float64, p, q int) (ar, ma, resid []float64, err error) {
	// Stage one: long autoregression to proxy the innovations.
	long := p + q + 3
	if max := len(z)/4 + 1; long > max {
		long = max
	}
	if long < 1 {
		return nil, nil, nil, errTooShort
	}
	_, eHat, err := fitAR(z, long)
	if err != nil {
		return nil, nil, nil, err
	}
	// eHat[t] corresponds to z[t+long].
	offset := long
	start := p
	if q > start {
		start = q
	}
	n := len(z) - offset - start
	if n <= p+q {
		return nil, nil, nil, errTooShort
	}

	cols := p + q
	x := mat.NewDense(n, cols, nil)
	y := mat.NewVecDense(n, nil)
	for t := 0; t < n; t++ {
		zi := offset + start + t
		for i := 0; i < p; i++ {
			x.Set(t, i, z[zi-1-i])
		}
		for j := 0; j < q; j++ {
			x.Set(t, p+j, eHat[zi-offset-1-j])
		}
		y.SetVec(t, z[zi])
	}
	coef, err := solveLS(x, y)
	if err != nil {
		return nil, nil, nil, err
	}
	ar = coef[:p]
	ma = coef[p:]

	resid = make([]float64, n)
	for t := 0; t < n; t++ {
		zi := offset + start + t
		pred := 0.0
		for i := 0; i < p; i++ {
			pred += ar[i] * z[zi-1-i]
		}
		for j := 0; j < q; j++ {
			pred += ma[j] * eHat[zi-offset-1-j]
		}
		resid[t] = z[zi] - pred
	}
	return ar, ma, resid, nil
}

func solveLS(x *mat.Dense, y *mat.VecDense) ([]float64, error) {
	_, cols := x.Dims()
	var qr mat.QR
	qr.Factorize(x)
	sol := mat.NewVecDense(cols, nil)
	if err := qr.SolveVecTo(sol, false, y); err != nil {
		// An ill-conditioned system still populates the solution; only a
		// hard failure aborts the fit.
		if _, ok := err.(mat.Condition); !ok {
			return nil, fmt.Errorf("arima: least squares solve failed: %w", err)
		}
	}
	out := make([]float64, cols)
	for i := range out {
		v := sol.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("arima: least squares solution is degenerate")
		}
		out[i] = v
	}
	return out, nil
}

func allNearZero(v []float64) bool {
	for _, x := range v {
		if math.Abs(x) > 1e-12 {
			return false
		}
	}
	return true
}

func difference(series []float64, d int) []float64 {
	out := append([]float64(nil), series...)
	for i := 0; i < d; i++ {
		if len(out) < 2 {
			return nil
		}
		next := make([]float64, len(out)-1)
		for j := 1; j < len(out); j++ {
			next[j-1] = out[j] - out[j-1]
		}
		out = next
	}
	return out
}

// diffLevels returns the tail values at each differencing level, used to
// integrate forecasts back to the original scale.
func diffLevels(tail []float64, d int) [][]float64 {
	levels := make([][]float64, d+1)
	levels[0] = append([]float64(nil), tail...)
	for i := 1; i <= d; i++ {
		prev := levels[i-1]
		next := make([]float64, len(prev)-1)
		for j := 1; j < len(prev); j++ {
			next[j-1] = prev[j] - prev[j-1]
		}
		levels[i] = next
	}
	return levels
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func tailOf(v []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if len(v) < n {
		return append([]float64(nil), v...)
	}
	return append([]float64(nil), v[len(v)-n:]...)
}
