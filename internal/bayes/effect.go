package bayes

// Effect says whether a parameter is shared by all observations or varies by
// the levels of a grouping factor. The variant set is closed.
type Effect interface {
	effect()
	String() string
}

// Fixed is shared across every observation.
type Fixed struct{}

// Random varies by level of Factor around the fixed effect.
type Random struct {
	Factor string
}

func (Fixed) effect()  {}
func (Random) effect() {}

func (Fixed) String() string    { return "fixed" }
func (r Random) String() string { return "by_" + r.Factor }

// IsRandom reports whether e is a random effect.
func IsRandom(e Effect) bool {
	_, ok := e.(Random)
	return ok
}
