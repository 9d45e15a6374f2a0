package logic

const (
	DefaultWindow = 5
	MinWindow     = 3
	MaxWindow     = 10
)

// Filter is a moving average over the most recent raw force values.
// Not safe for concurrent use; owned by the sensor task.
type Filter struct {
	buf    [MaxWindow]float64
	window int
	head   int // next write position
	count  int
}

// NewFilter creates a filter averaging over window samples.
func NewFilter(window int) *Filter {
	return &Filter{window: clampWindow(window)}
}

// Window returns the current window size.
func (f *Filter) Window() int {
	return f.window
}

// Push adds a raw value and returns the average over the window.
func (f *Filter) Push(v float64) float64 {
	f.buf[f.head] = v
	f.head = (f.head + 1) % MaxWindow
	if f.count < MaxWindow {
		f.count++
	}
	return f.Mean()
}

// Mean returns the average of the last min(count, window) values.
func (f *Filter) Mean() float64 {
	n := f.count
	if n > f.window {
		n = f.window
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 1; i <= n; i++ {
		sum += f.buf[(f.head-i+MaxWindow)%MaxWindow]
	}
	return sum / float64(n)
}

// Resize changes the window, keeping history so a grown window averages
// over older samples already seen.
func (f *Filter) Resize(window int) {
	f.window = clampWindow(window)
}

// Screen smooths r.Force and flags it when the smoothed magnitude exceeds threshold.
func (f *Filter) Screen(r SensorReading, threshold float64) FilteredReading {
	smoothed := f.Push(r.Force)
	abs := smoothed
	if abs < 0 {
		abs = -abs
	}
	return FilteredReading{
		SensorReading: r,
		Smoothed:      smoothed,
		Anomaly:       abs > threshold,
		Threshold:     threshold,
	}
}

func clampWindow(w int) int {
	if w < MinWindow {
		return MinWindow
	}
	if w > MaxWindow {
		return MaxWindow
	}
	return w
}
