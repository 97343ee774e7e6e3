package score

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sejmbot/detektor/internal/model"
)

const (
	MinWeight = 1
	MaxWeight = 3
)

// KeywordTable is an immutable set of weighted keywords and exclude phrases.
// Builder methods return a modified copy and leave the receiver untouched.
type KeywordTable struct {
	weights map[string]int
	exclude map[string]bool
}

// NewKeywordTable validates and folds the given keywords and exclude phrases
func NewKeywordTable(weights map[string]int, exclude []string) (KeywordTable, error) {
	t := KeywordTable{
		weights: make(map[string]int, len(weights)),
		exclude: make(map[string]bool, len(exclude)),
	}
	for kw, w := range weights {
		var err error
		if t, err = t.withKeyword(kw, w); err != nil {
			return KeywordTable{}, err
		}
	}
	for _, phrase := range exclude {
		var err error
		if t, err = t.withExclude(phrase); err != nil {
			return KeywordTable{}, err
		}
	}
	return t, nil
}

// DefaultKeywordTable returns the built-in Polish parliamentary table
func DefaultKeywordTable() KeywordTable {
	t, err := NewKeywordTable(defaultWeights, defaultExclude)
	if err != nil {
		panic(fmt.Sprintf("built-in keyword table: %v", err))
	}
	return t
}

// WithKeyword returns a copy with keyword set to weight
func (t KeywordTable) WithKeyword(keyword string, weight int) (KeywordTable, error) {
	return t.clone().withKeyword(keyword, weight)
}

// WithoutKeyword returns a copy without keyword
func (t KeywordTable) WithoutKeyword(keyword string) KeywordTable {
	c := t.clone()
	delete(c.weights, fold(keyword))
	return c
}

// WithExclude returns a copy with an additional exclude phrase
func (t KeywordTable) WithExclude(phrase string) (KeywordTable, error) {
	return t.clone().withExclude(phrase)
}

// WithoutExclude returns a copy without the exclude phrase
func (t KeywordTable) WithoutExclude(phrase string) KeywordTable {
	c := t.clone()
	delete(c.exclude, fold(phrase))
	return c
}

// Weight returns the keyword weight, or 0 for unknown keywords
func (t KeywordTable) Weight(keyword string) int {
	return t.weights[fold(keyword)]
}

// IsExcluded reports whether phrase is an exclude phrase
func (t KeywordTable) IsExcluded(phrase string) bool {
	return t.exclude[fold(phrase)]
}

// Keywords returns the keywords in lexical order
func (t KeywordTable) Keywords() []string {
	return sortedKeys(t.weights)
}

// Excludes returns the exclude phrases in lexical order
func (t KeywordTable) Excludes() []string {
	return sortedKeys(t.exclude)
}

// Len returns the number of keywords
func (t KeywordTable) Len() int {
	return len(t.weights)
}

func (t KeywordTable) withKeyword(keyword string, weight int) (KeywordTable, error) {
	kw := fold(keyword)
	if kw == "" {
		return t, fmt.Errorf("%w: empty keyword", model.ErrConfiguration)
	}
	if weight < MinWeight || weight > MaxWeight {
		return t, fmt.Errorf("%w: keyword %q weight %d outside %d-%d", model.ErrConfiguration, kw, weight, MinWeight, MaxWeight)
	}
	if t.exclude[kw] {
		return t, fmt.Errorf("%w: %q is already an exclude phrase", model.ErrConfiguration, kw)
	}
	t.weights[kw] = weight
	return t, nil
}

func (t KeywordTable) withExclude(phrase string) (KeywordTable, error) {
	p := fold(phrase)
	if p == "" {
		return t, fmt.Errorf("%w: empty exclude phrase", model.ErrConfiguration)
	}
	if _, ok := t.weights[p]; ok {
		return t, fmt.Errorf("%w: %q is already a keyword", model.ErrConfiguration, p)
	}
	t.exclude[p] = true
	return t, nil
}

func (t KeywordTable) clone() KeywordTable {
	c := KeywordTable{
		weights: make(map[string]int, len(t.weights)+1),
		exclude: make(map[string]bool, len(t.exclude)+1),
	}
	for k, v := range t.weights {
		c.weights[k] = v
	}
	for k := range t.exclude {
		c.exclude[k] = true
	}
	return c
}

// keywordFile is the on-disk shape of a keyword table
type keywordFile struct {
	Keywords map[string]int `json:"keywords" yaml:"keywords"`
	Exclude  []string       `json:"exclude" yaml:"exclude"`
}

// LoadKeywordTable reads a YAML or JSON keyword table
func LoadKeywordTable(path string) (KeywordTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeywordTable{}, fmt.Errorf("%w: read keyword file: %v", model.ErrConfiguration, err)
	}

	var kf keywordFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &kf)
	default:
		err = yaml.Unmarshal(data, &kf)
	}
	if err != nil {
		return KeywordTable{}, fmt.Errorf("%w: parse keyword file %s: %v", model.ErrConfiguration, path, err)
	}

	return NewKeywordTable(kf.Keywords, kf.Exclude)
}

// TableFromConfig builds the run's keyword table: the file if given,
// otherwise the configured weights, otherwise the built-in table.
func TableFromConfig(cfg model.KeywordsConfig) (KeywordTable, error) {
	switch {
	case cfg.File != "":
		return LoadKeywordTable(cfg.File)
	case len(cfg.Weights) > 0:
		exclude := cfg.Exclude
		if exclude == nil {
			exclude = defaultExclude
		}
		return NewKeywordTable(cfg.Weights, exclude)
	}

	t := DefaultKeywordTable()
	if len(cfg.Exclude) > 0 {
		c := t.clone()
		c.exclude = make(map[string]bool, len(cfg.Exclude))
		for _, phrase := range cfg.Exclude {
			var err error
			if c, err = c.withExclude(phrase); err != nil {
				return KeywordTable{}, err
			}
		}
		t = c
	}
	return t, nil
}

func fold(s string) string {
	return model.FoldKeyword(s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var defaultWeights = map[string]int{
	// weight 3
	"śmiech": 3, "śmieszny": 3, "zabawny": 3, "rozbawienie": 3,
	"żart": 3, "żartuje": 3, "komiczny": 3, "humorystyczny": 3,
	"ojej": 3, "ups": 3, "oops": 3,
	"bzdura": 3, "nonsens": 3, "brednie": 3, "głupota": 3,
	"cyrk": 3, "kabaret": 3, "farsa": 3,
	"gafa": 3, "wpadka": 3, "lapsus": 3,
	"gwizdy": 3, "buczenie": 3, "wrzawa": 3,

	// weight 2
	"absurd": 2, "niedorzeczny": 2, "absurdalny": 2, "skandaliczny": 2,
	"niewiarygodny": 2, "szokujący": 2,
	"chaos": 2, "zamieszanie": 2, "bałagan": 2, "awantura": 2,
	"ironiczny": 2, "sarkastyczny": 2, "kpina": 2, "szopka": 2,
	"oklaski": 2, "brawa": 2,

	// weight 1, only meaningful in context
	"teatr": 1, "show": 1, "spektakl": 1,
	"naprawdę": 1, "serio": 1, "poważnie": 1,
}

var defaultExclude = []string{
	"spis treści",
	"porządek dzienny",
	"porządku dziennego",
	"sprawozdanie stenograficzne",
	"projekt ustawy",
	"teatr wielki",
	"teatr narodowy",
	"teatr polski",
	"komisja kultury i środków przekazu",
}

// humorCategories maps keywords to the humor type they indicate
var humorCategories = map[model.HumorType][]string{
	model.HumorJoke: {
		"żart", "żartuje", "żarcik", "haha", "hihi", "śmiech", "dowcip",
		"komiczny", "humorystyczny", "zabawny", "rozbawienie", "śmieszny",
	},
	model.HumorSarcasm: {
		"ironiczny", "sarkastyczny", "sarkazm", "kpić", "kpina", "drwina", "ironia",
	},
	model.HumorPersonalAttack: {
		"kabaret", "cyrk", "farsa", "spektakl", "teatr", "szopka", "parodia",
	},
	model.HumorChaos: {
		"gwizdy", "buczenie", "wrzawa", "tumult", "chaos", "zamieszanie", "bałagan", "awantura",
	},
}

// humorOrder breaks ties between equally weighted humor types
var humorOrder = []model.HumorType{
	model.HumorJoke, model.HumorSarcasm, model.HumorPersonalAttack, model.HumorChaos,
}
