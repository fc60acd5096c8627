package types

// Gas is the unit of execution budget attached to every invocation.
type Gas uint64

// TGas is one tera-gas.
const TGas Gas = 1_000_000_000_000

// SaturatingSub returns g-o, or zero when o exceeds g.
func (g Gas) SaturatingSub(o Gas) Gas {
	if o >= g {
		return 0
	}
	return g - o
}
