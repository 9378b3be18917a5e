package bookmanager

// opportunityRing is a fixed capacity FIFO of arbitrage opportunities.
// Pushing into a full ring silently evicts the oldest entry.
type opportunityRing struct {
	buffer []ArbitrageOpportunity
	head   int // index of the oldest entry
	count  int
}

func newOpportunityRing(capacity int) *opportunityRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &opportunityRing{buffer: make([]ArbitrageOpportunity, capacity)}
}

func (r *opportunityRing) push(o ArbitrageOpportunity) {
	size := len(r.buffer)
	if r.count < size {
		r.buffer[(r.head+r.count)%size] = o
		r.count++
		return
	}
	r.buffer[r.head] = o
	r.head = (r.head + 1) % size
}

func (r *opportunityRing) len() int {
	return r.count
}

// each visits entries oldest first until fn returns false
func (r *opportunityRing) each(fn func(ArbitrageOpportunity) bool) {
	size := len(r.buffer)
	for i := 0; i < r.count; i++ {
		if !fn(r.buffer[(r.head+i)%size]) {
			return
		}
	}
}

func (r *opportunityRing) slice() []ArbitrageOpportunity {
	out := make([]ArbitrageOpportunity, 0, r.count)
	r.each(func(o ArbitrageOpportunity) bool {
		out = append(out, o)
		return true
	})
	return out
}
