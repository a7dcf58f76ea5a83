package matching

import (
	"sort"
	"strings"
	"unicode"
)

// Scorer provides string comparison algorithms for name matching
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
// Returns a value between 0.0 (no similarity) and 1.0 (exact match)
func (s *Scorer) JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	jaro := s.Jaro(a, b)

	prefixLen := 0
	maxPrefix := 4
	for i := 0; i < len(a) && i < len(b) && i < maxPrefix; i++ {
		if a[i] != b[i] {
			break
		}
		prefixLen++
	}

	scalingFactor := 0.1
	return jaro + float64(prefixLen)*scalingFactor*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings
func (s *Scorer) Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := 0; i < len(a); i++ {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)

		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// NameSimilarity compares two normalized full names. Token order is ignored so
// "anders alice" scores the same as "alice anders".
func (s *Scorer) NameSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	direct := s.JaroWinkler(a, b)
	sorted := s.JaroWinkler(sortTokens(a), sortTokens(b))
	return max(direct, sorted)
}

func sortTokens(s string) string {
	fields := strings.Fields(s)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

// Soundex calculates the Soundex encoding of a string
func (s *Scorer) Soundex(str string) string {
	str = strings.ToUpper(str)

	var first rune
	rest := ""
	for i, r := range str {
		if unicode.IsLetter(r) {
			first = r
			rest = str[i+len(string(r)):]
			break
		}
	}
	if first == 0 {
		return ""
	}

	result := string(first)
	prevCode := soundexCode(first)
	for _, char := range rest {
		if len(result) >= 4 {
			break
		}
		if !unicode.IsLetter(char) {
			continue
		}
		code := soundexCode(char)
		if code != "0" && code != prevCode {
			result += code
		}
		// H and W do not separate letters with the same code
		if char != 'H' && char != 'W' {
			prevCode = code
		}
	}

	for len(result) < 4 {
		result += "0"
	}
	return result
}

func soundexCode(char rune) string {
	switch char {
	case 'B', 'F', 'P', 'V':
		return "1"
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return "2"
	case 'D', 'T':
		return "3"
	case 'L':
		return "4"
	case 'M', 'N':
		return "5"
	case 'R':
		return "6"
	default:
		return "0"
	}
}
