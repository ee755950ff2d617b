package hardware

import "sort"

// Mode controls whether Recommend includes external-daemon models.
type Mode string

const (
	// ModeAssisted returns curated models only, ranked by score, with the
	// top entry flagged as recommended.
	ModeAssisted Mode = "assisted"
	// ModeManual returns the same ranked curated list plus any detected
	// external-daemon models appended at the end with no score.
	ModeManual Mode = "manual"
)

// Scoring weights from the curated model evaluator: language fit dominates,
// accuracy matters, raw speed is a tiebreaker.
const (
	languageWeight = 60.0
	accuracyWeight = 32.0
	speedWeight    = 8.0
)

// RankedModel is one scored (or, for external models, unscored) recommendation.
type RankedModel struct {
	Model       CuratedModel
	External    *ExternalModel // set only for manual-mode external-daemon entries
	Score       float64        // 0-100, zero for external models
	Recommended bool           // true for exactly the top assisted-mode entry
	Reasoning   string
}

// Evaluator gates curated models by hardware compatibility and scores the
// survivors for a folder's configured language mix.
type Evaluator struct {
	catalog Catalog
}

// NewEvaluator builds an Evaluator over the given catalog.
func NewEvaluator(catalog Catalog) *Evaluator {
	return &Evaluator{catalog: catalog}
}

// Recommend ranks the catalog (gated by caps) for the given languages. In
// ModeManual, externalModels are appended after the curated ranking with no
// score; they are never compared against curated entries.
func (e *Evaluator) Recommend(caps Capabilities, mode Mode, languages []string, externalModels []ExternalModel) []RankedModel {
	var ranked []RankedModel
	for _, m := range e.catalog.All() {
		if !hardwareCompatible(m, caps) {
			continue
		}
		score, reasoning := scoreModel(m, languages, caps)
		ranked = append(ranked, RankedModel{Model: m, Score: score, Reasoning: reasoning})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > 0 {
		ranked[0].Recommended = true
	}

	if mode != ModeManual {
		return ranked
	}

	for _, ext := range externalModels {
		e := ext
		ranked = append(ranked, RankedModel{External: &e})
	}
	return ranked
}

// hardwareCompatible is the binary gate: a model requiring VRAM the host
// doesn't have is excluded entirely rather than scored low.
func hardwareCompatible(m CuratedModel, caps Capabilities) bool {
	if m.MinVRAMMiB == 0 {
		return true // CPU/ONNX models run everywhere
	}
	return caps.GPUVRAMMiB >= m.MinVRAMMiB
}

// scoreModel computes the 0-100 score: language fit (60), benchmark accuracy
// (32), speed (8). Hardware only gates eligibility above; it contributes a
// reasoning string here, never points.
func scoreModel(m CuratedModel, languages []string, caps Capabilities) (float64, string) {
	languageFit := averageLanguageScore(m, languages)
	accuracy := m.MTEBScore // already normalized 0-1 by the catalog
	speed := normalizeSpeed(m.TokensPerSecond)

	score := languageFit*languageWeight + accuracy*accuracyWeight + speed*speedWeight

	reasoning := "selected for its catalog score"
	if m.HardwareClass() == "gpu" {
		reasoning = "GPU backend: " + caps.GPUVendor + " clears the " + itoaMiB(m.MinVRAMMiB) + " VRAM requirement"
	} else {
		reasoning = "CPU backend: runs on any host, no accelerator required"
	}
	return score, reasoning
}

func averageLanguageScore(m CuratedModel, languages []string) float64 {
	if len(languages) == 0 {
		if en, ok := m.LanguageScores["en"]; ok {
			return en
		}
		return defaultLanguageScore(m)
	}
	var sum float64
	var n int
	for _, lang := range languages {
		if s, ok := m.LanguageScores[lang]; ok {
			sum += s
			n++
		} else {
			sum += defaultLanguageScore(m)
			n++
		}
	}
	if n == 0 {
		return defaultLanguageScore(m)
	}
	return sum / float64(n)
}

// defaultLanguageScore is the conservative floor applied when a model's
// catalog entry has no score for a requested language at all.
func defaultLanguageScore(m CuratedModel) float64 {
	return 0.3
}

// normalizeSpeed maps tokens/sec onto 0-1 against a generous ceiling so the
// weight stays a tiebreaker rather than a dominant factor.
func normalizeSpeed(tokensPerSecond float64) float64 {
	const ceiling = 1200.0
	if tokensPerSecond <= 0 {
		return 0
	}
	if tokensPerSecond >= ceiling {
		return 1
	}
	return tokensPerSecond / ceiling
}

func itoaMiB(mib int) string {
	gib := float64(mib) / 1024.0
	if gib == float64(int(gib)) {
		return itoa(int(gib)) + "GiB"
	}
	return itoa(mib) + "MiB"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
