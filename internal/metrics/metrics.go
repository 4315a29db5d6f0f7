package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	CyclesCompleted Counter
	OrdersPlaced    Counter
	OrdersFailed    Counter
	CloseFailures   Counter
	UnhedgedOpens   Counter
	LastCyclePnL    Gauge
	RealizedPnL     Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	c := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		CyclesCompleted: c,
		OrdersPlaced:    c,
		OrdersFailed:    c,
		CloseFailures:   c,
		UnhedgedOpens:   c,
		LastCyclePnL:    g,
		RealizedPnL:     g,
	}
}
