package rng

// 128-bit multiplier/phi/Weyl constants, split into hi/lo 64-bit
// halves (32 hex digits each, high 16 then low 16).
var (
	multiplier = newWord128(0x2360ED051FC65DA4, 0x4385DF649FCCF645)
	phi        = newWord128(0x9E3779B97F4A7C15, 0xF39CC0605CEDC834)
	weylConst  = newWord128(0xB4E902A1B37E9E9D, 0x7A35C7B5D8B9C071)
)

var initStateBases = [4]word128{
	newWord128(0, 0xcafef00dd15ea5e5),
	newWord128(0, 0xdeadbeefcafebeef),
	newWord128(0, 0xf00dbeefdeadcafe),
	newWord128(0, 0xbeeff00dcafed15e),
}

var initIncrementBases = [4]word128{
	newWord128(0, 0xa02891feed15ea5e),
	newWord128(0, 0xc0ffeed15ebabe5c),
	newWord128(0, 0xfeedbabedeadc0de),
	newWord128(0, 0xd15ebabefeedd06f),
}

func pcgInitState(index int) word128 {
	base := initStateBases[index%4]
	mixer := phi.mul(newWord128(0, uint64(index+1)))
	return base.xor(mixer)
}

func pcgInitIncrement(index int) word128 {
	base := initIncrementBases[index%4].or(newWord128(0, 1)) // ensure odd
	mixer := weylConst.mul(newWord128(0, uint64(index+1)))
	return base.xor(mixer)
}

// Engine is the LANES-wide PCG generator.
type Engine struct {
	lanes     int
	state     []word128
	increment []word128
	weyl      []word128
}

// NewEngine constructs a LANES-wide engine seeded with seed, XORed into
// the constant-derived initial state per lane, followed by a
// state-dependent avalanche warmup to decorrelate the output stream
// from the seed.
func NewEngine(lanes int, seed uint64) *Engine {
	e := &Engine{
		lanes:     lanes,
		state:     make([]word128, lanes),
		increment: make([]word128, lanes),
		weyl:      make([]word128, lanes),
	}
	seedW := newWord128(0, seed)
	for i := 0; i < lanes; i++ {
		e.state[i] = pcgInitState(i).xor(seedW)
		e.increment[i] = pcgInitIncrement(i)
		e.weyl[i] = weylConst
	}
	e.avalanche()
	return e
}

func (e *Engine) reduceState() uint64 {
	var acc uint64
	for _, s := range e.state {
		acc ^= s.reduce()
	}
	return acc
}

// shuffle permutes lanes by rotating the slice by one position, a fixed
// bijective permutation. What matters for the stream-disjointness
// contract is that it mixes cross-lane state deterministically, not the
// exact permutation.
func (e *Engine) shuffle() {
	rotateWord128Slice(e.state)
	rotateWord128Slice(e.increment)
}

func rotateWord128Slice(s []word128) {
	if len(s) < 2 {
		return
	}
	last := s[len(s)-1]
	copy(s[1:], s[:len(s)-1])
	s[0] = last
}

func (e *Engine) nextRawLane(i int) word128 {
	old := e.state[i]
	e.state[i] = old.mul(multiplier).add(e.increment[i])

	xored := old.shiftRight(64).xor(old)
	word := xored.shiftRight(63).xor(xored.shiftRight(31)).xor(xored.shiftRight(15))
	rot := uint(old.shiftRight(122).and(newWord128(0, 127)).lo)
	return word.rotateRight(rot)
}

func (e *Engine) nextRaw() []word128 {
	out := make([]word128, e.lanes)
	for i := range out {
		out[i] = e.nextRawLane(i)
	}
	return out
}

func (e *Engine) avalanche() {
	const rounds = 3
	n := e.reduceState() % rounds
	for r := uint64(0); r < n; r++ {
		e.shuffle()
		raw := e.nextRaw()
		for i := range e.state {
			e.state[i] = e.state[i].xor(raw[i])
			e.increment[i] = e.increment[i].shiftLeft(1).or(newWord128(0, 1))
		}
	}
}

// NextU128 runs the state-dependent avalanche rounds, then advances every
// lane one more step and returns the LANES-wide output
// vector as raw 128-bit words (opaque to callers outside this package).
func (e *Engine) NextU128() []word128 {
	e.avalanche()
	result := e.nextRaw()
	for i := range e.state {
		e.weyl[i] = e.weyl[i].add(weylConst)
		e.state[i] = e.state[i].xor(e.weyl[i])
	}
	return result
}

// NextUint64 returns the low 64 bits of lane 0's next output, the
// common case for scalar consumers (distributions, single-threaded
// callers) that don't need the full SIMD width.
func (e *Engine) NextUint64() uint64 {
	return e.NextU128()[0].lo
}

// NextFloat64 produces a standard sample in [0,1): XOR the two 64-bit
// halves, take the top 53 bits, scale into [0,1).
func (e *Engine) NextFloat64() float64 {
	w := e.NextU128()[0]
	mixed := w.hi ^ w.lo
	return float64(mixed>>11) * twoPow53Inv
}

const twoPow53Inv = 1.0 / (1 << 53)

// Branch produces a new Engine with a fresh increment derived from the
// parent's state x increment, guaranteed odd, so that the child stream
// is disjoint from the parent's modulo the period. Deterministic: a
// pure function of the current state.
func (e *Engine) Branch() *Engine {
	child := &Engine{
		lanes:     e.lanes,
		state:     make([]word128, e.lanes),
		increment: make([]word128, e.lanes),
		weyl:      make([]word128, e.lanes),
	}
	for i := 0; i < e.lanes; i++ {
		mixed := e.state[i].mul(e.increment[i])
		child.state[i] = mixed.xor(phi)
		child.increment[i] = mixed.or(newWord128(0, 1)) // force odd
		child.weyl[i] = weylConst
	}
	child.avalanche()
	return child
}

// Lanes returns the configured SIMD width.
func (e *Engine) Lanes() int { return e.lanes }
