package services

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/floats"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// englishStopWords are dropped before term counting.
var englishStopWords = buildStopWords(`a about above across after afterwards again against all almost alone along
already also although always am among amongst an and another any anyhow anyone anything anyway
anywhere are around as at back be became because become becomes becoming been before beforehand
behind being below beside besides between beyond both but by can cannot could did do does doing done
down during each either else elsewhere enough etc even ever every everyone everything everywhere
except few for former formerly from further get give go had has hasn have having he hence her here
hereafter hereby herein hers herself him himself his how however i ie if in indeed into is it its
itself just keep last latter least less ltd made many may me meanwhile might mine more moreover most
mostly much must my myself neither never nevertheless next no nobody none noone nor not nothing now
nowhere of off often on once one only onto or other others otherwise our ours ourselves out over own
per perhaps please put rather re same see seem seemed seeming seems several she should since so some
somehow someone something sometime sometimes somewhere still such than that the their theirs them
themselves then thence there thereafter thereby therefore therein thereupon these they this those
though through throughout thru thus to together too toward towards under until up upon us very via
was we well were what whatever when whence whenever where whereafter whereas whereby wherein whereupon
wherever whether which while whither who whoever whole whom whose why will with within without would
yet you your yours yourself yourselves`)

func buildStopWords(list string) map[string]struct{} {
	words := strings.Fields(list)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// tokenize lowercases and NFKC-normalizes text, then returns the terms of two or
// more word characters that are not English stop words.
func tokenize(text string) []string {
	normalized := strings.ToLower(norm.NFKC.String(text))
	raw := tokenPattern.FindAllString(normalized, -1)

	tokens := raw[:0]
	for _, tok := range raw {
		if _, stop := englishStopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// FeatureSpace holds one L2-normalized TF-IDF vector per movie over a shared vocabulary.
type FeatureSpace struct {
	vocabulary []string
	index      map[int64]int
	movieIDs   []int64
	vectors    [][]float64
}

// NewFeatureSpace vectorizes documents keyed by movie ID. The vocabulary keeps the
// maxTerms terms with the highest corpus frequency (ties broken alphabetically).
// idf(t) = ln((1+n)/(1+df(t))) + 1.
func NewFeatureSpace(documents map[int64]string, maxTerms int) *FeatureSpace {
	movieIDs := make([]int64, 0, len(documents))
	for id := range documents {
		movieIDs = append(movieIDs, id)
	}
	sort.Slice(movieIDs, func(i, j int) bool { return movieIDs[i] < movieIDs[j] })

	termCounts := make([]map[string]int, len(movieIDs))
	corpusFreq := make(map[string]int)
	docFreq := make(map[string]int)
	for i, id := range movieIDs {
		counts := make(map[string]int)
		for _, tok := range tokenize(documents[id]) {
			counts[tok]++
		}
		for term, c := range counts {
			corpusFreq[term] += c
			docFreq[term]++
		}
		termCounts[i] = counts
	}

	vocabulary := make([]string, 0, len(corpusFreq))
	for term := range corpusFreq {
		vocabulary = append(vocabulary, term)
	}
	sort.Slice(vocabulary, func(i, j int) bool {
		if corpusFreq[vocabulary[i]] != corpusFreq[vocabulary[j]] {
			return corpusFreq[vocabulary[i]] > corpusFreq[vocabulary[j]]
		}
		return vocabulary[i] < vocabulary[j]
	})
	if maxTerms > 0 && len(vocabulary) > maxTerms {
		vocabulary = vocabulary[:maxTerms]
	}
	sort.Strings(vocabulary)

	column := make(map[string]int, len(vocabulary))
	idf := make([]float64, len(vocabulary))
	n := float64(len(movieIDs))
	for j, term := range vocabulary {
		column[term] = j
		idf[j] = math.Log((1+n)/(1+float64(docFreq[term]))) + 1
	}

	fs := &FeatureSpace{
		vocabulary: vocabulary,
		index:      make(map[int64]int, len(movieIDs)),
		movieIDs:   movieIDs,
		vectors:    make([][]float64, len(movieIDs)),
	}
	for i, id := range movieIDs {
		vec := make([]float64, len(vocabulary))
		for term, c := range termCounts[i] {
			if j, ok := column[term]; ok {
				vec[j] = float64(c) * idf[j]
			}
		}
		if l2 := floats.Norm(vec, 2); l2 > 0 {
			floats.Scale(1/l2, vec)
		}
		fs.index[id] = i
		fs.vectors[i] = vec
	}

	return fs
}

func (fs *FeatureSpace) Len() int { return len(fs.movieIDs) }

func (fs *FeatureSpace) Contains(movieID int64) bool {
	_, ok := fs.index[movieID]
	return ok
}

// MovieIDs returns the movies in the space in ascending order.
func (fs *FeatureSpace) MovieIDs() []int64 { return fs.movieIDs }

func (fs *FeatureSpace) Vocabulary() []string { return fs.vocabulary }

// Similarity is the cosine similarity of two movies' feature vectors.
func (fs *FeatureSpace) Similarity(a, b int64) (float64, bool) {
	i, okA := fs.index[a]
	j, okB := fs.index[b]
	if !okA || !okB {
		return 0, false
	}
	return cosineDense(fs.vectors[i], fs.vectors[j]), true
}

func cosineDense(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
