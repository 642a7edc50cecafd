package checker

import "github.com/urlsentry/urlsentry/internal/source"

// merge folds per-source verdicts into one. The aggregate is malicious if
// any verdict is malicious, with the threat type and confidence of the
// highest-severity malicious verdict; ties go to the earliest verdict in
// registration order. Commutative and associative over the verdict set, so
// completion order never changes the outcome.
func merge(verdicts []source.Verdict) source.Verdict {
	best := -1
	for i, v := range verdicts {
		if !v.Malicious {
			continue
		}
		if best < 0 || v.Level > verdicts[best].Level {
			best = i
		}
	}
	if best < 0 {
		return source.NewVerdict(source.Verdict{
			Malicious:  false,
			Level:      source.LevelSafe,
			Confidence: 0.0,
		})
	}
	winner := verdicts[best]
	return source.NewVerdict(source.Verdict{
		Malicious:  true,
		ThreatType: winner.ThreatType,
		Level:      winner.Level,
		Confidence: winner.Confidence,
		DetectedBy: winner.DetectedBy,
	})
}
