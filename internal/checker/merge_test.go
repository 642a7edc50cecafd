package checker

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/urlsentry/urlsentry/internal/source"
)

func mal(name string, level source.Level, threatType string, confidence float64) source.Verdict {
	return source.NewVerdict(source.Verdict{
		Malicious:  true,
		ThreatType: threatType,
		Level:      level,
		Confidence: confidence,
		DetectedBy: name,
	})
}

func safe(name string) source.Verdict {
	return source.NewVerdict(source.Verdict{DetectedBy: name})
}

func TestMerge_AllSafe(t *testing.T) {
	m := merge([]source.Verdict{safe("a"), safe("b"), safe("c")})
	assert.False(t, m.Malicious)
	assert.Equal(t, source.LevelSafe, m.Level)
	assert.Equal(t, 0.0, m.Confidence)
}

func TestMerge_Empty(t *testing.T) {
	m := merge(nil)
	assert.False(t, m.Malicious)
	assert.Equal(t, source.LevelSafe, m.Level)
}

func TestMerge_ORSemantics(t *testing.T) {
	// One alarming source makes the aggregate malicious regardless of how
	// many others report safe.
	m := merge([]source.Verdict{safe("a"), safe("b"), mal("c", source.LevelLow, "phishing", 0.4), safe("d")})
	assert.True(t, m.Malicious)
	assert.Equal(t, source.LevelLow, m.Level)
	assert.Equal(t, "phishing", m.ThreatType)
}

func TestMerge_MaxSeverityWins(t *testing.T) {
	m := merge([]source.Verdict{
		mal("a", source.LevelHigh, "malware", 0.9),
		mal("b", source.LevelCritical, "ransomware", 0.7),
		safe("c"),
	})
	assert.True(t, m.Malicious)
	assert.Equal(t, source.LevelCritical, m.Level)
	assert.Equal(t, "ransomware", m.ThreatType)
	assert.Equal(t, 0.7, m.Confidence)
	assert.Equal(t, "b", m.DetectedBy)
}

func TestMerge_TieBreakFirstInOrder(t *testing.T) {
	m := merge([]source.Verdict{
		mal("first", source.LevelHigh, "malware", 0.8),
		mal("second", source.LevelHigh, "phishing", 0.9),
	})
	assert.Equal(t, "malware", m.ThreatType)
	assert.Equal(t, 0.8, m.Confidence)
	assert.Equal(t, "first", m.DetectedBy)
}

func TestMerge_Commutative(t *testing.T) {
	verdicts := []source.Verdict{
		safe("a"),
		mal("b", source.LevelMedium, "phishing", 0.6),
		mal("c", source.LevelCritical, "ransomware", 0.95),
		safe("d"),
		mal("e", source.LevelLow, "malware", 0.3),
	}
	want := merge(verdicts)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]source.Verdict, len(verdicts))
		copy(shuffled, verdicts)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := merge(shuffled)
		assert.Equal(t, want.Malicious, got.Malicious)
		assert.Equal(t, want.Level, got.Level)
		assert.Equal(t, want.ThreatType, got.ThreatType)
		assert.Equal(t, want.Confidence, got.Confidence)
	}
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, cacheKey("evil.net", 443, "/trojan"), cacheKey(" EVIL.NET ", 443, "/trojan"))
	assert.Equal(t, "evil.net:443/", cacheKey("evil.net", 443, ""))
	assert.NotEqual(t, cacheKey("evil.net", 80, "/"), cacheKey("evil.net", 443, "/"))
	assert.NotEqual(t, cacheKey("evil.net", 80, "/a"), cacheKey("evil.net", 80, "/b"))
}
