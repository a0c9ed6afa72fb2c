package schema

// MoldType selects which extractors serve a mold.
type MoldType int

const (
	MoldComplex MoldType = 0
	MoldLLM     MoldType = 10
	MoldHybrid  MoldType = 11
)

func (t MoldType) String() string {
	switch t {
	case MoldComplex:
		return "COMPLEX"
	case MoldLLM:
		return "LLM"
	case MoldHybrid:
		return "HYBRID"
	}
	return "UNKNOWN"
}

// UsesLLM reports whether the LLM extractor runs for this mold type.
func (t MoldType) UsesLLM() bool {
	return t == MoldLLM || t == MoldHybrid
}
