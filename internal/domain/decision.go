package domain

// ReasonCode is the closed set of rejection reasons the position-opening
// decision and risk manager may return. Callers switch on this instead of
// inspecting an error string.
type ReasonCode string

const (
	ReasonNone             ReasonCode = ""
	ReasonConfidence       ReasonCode = "CONFIDENCE"
	ReasonBias             ReasonCode = "BIAS"
	ReasonRisk             ReasonCode = "RISK"
	ReasonTiming           ReasonCode = "TIMING"
	ReasonCapital          ReasonCode = "CAPITAL"
	ReasonDuplicate        ReasonCode = "DUPLICATE"
	ReasonMarketConditions ReasonCode = "MARKET_CONDITIONS"
)

// Decision is the typed, non-exception result of the position-opening
// validator. Approved == false always carries a non-empty Reason.
type Decision struct {
	Approved        bool
	Reason          ReasonCode
	PositionSize    float64
	RiskScore       float64
	FinalConfidence float64
	Reasoning       string
}

// Rejected builds a rejection Decision.
func Rejected(reason ReasonCode, why string) Decision {
	return Decision{Approved: false, Reason: reason, Reasoning: why}
}

// Approve builds an approval Decision.
func Approve(positionSize, riskScore, finalConfidence float64, why string) Decision {
	return Decision{
		Approved:        true,
		Reason:          ReasonNone,
		PositionSize:    positionSize,
		RiskScore:       riskScore,
		FinalConfidence: finalConfidence,
		Reasoning:       why,
	}
}
