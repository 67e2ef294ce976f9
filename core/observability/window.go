package observability

// Window sizes in samples; one sample is taken per tick.
const (
	window1  = 60
	window5  = 300
	window15 = 900
)

// windows keeps 1, 5 and 15 minute rings that share one write position.
// While a ring is filling its mean is taken over the samples it has.
type windows struct {
	pos  int
	ring [3][]float64
}

var windowSizes = [3]int{window1, window5, window15}

func (w *windows) push(v float64) {
	for i, size := range windowSizes {
		if len(w.ring[i]) < size {
			w.ring[i] = append(w.ring[i], v)
		} else {
			w.ring[i][w.pos%size] = v
		}
	}
	w.pos++
	if w.pos >= window15 {
		w.pos = 0
	}
}

func (w *windows) mean(i int) float64 {
	r := w.ring[i]
	if len(r) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r {
		sum += v
	}
	return sum / float64(len(r))
}
