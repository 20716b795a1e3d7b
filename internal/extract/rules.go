// Package extract derives cost dimensions from free-text billing fields
// using a declarative table of pattern rules.
package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Dimension names one derived output field
type Dimension string

const (
	Zone       Dimension = "zone"
	AWSService Dimension = "aws_service"
	UsageType  Dimension = "usage_type"
	Server     Dimension = "server"
	Env        Dimension = "env"
	Service    Dimension = "service"
	Device     Dimension = "device"
	UnitCost   Dimension = "unit_cost"
	Unit       Dimension = "unit"
)

// Source names the raw export column a rule reads
type Source string

const (
	SourceUsageType   Source = "usage_type"
	SourceDescription Source = "item_description"
	SourceName        Source = "name"
)

// Default prefixes for server naming
const (
	DefaultOrgPrefix   = "uc3"
	DefaultInfraPrefix = "mrt"
	OtherService       = "other"
	OtherUsageType     = "Other"
	NotApplicableEnv   = "n/a"
)

// UnitVocabulary lists the billing units recognized in item descriptions.
// The n-th capture group of the unit pattern maps to the n-th term.
var UnitVocabulary = []string{
	"gb-month",
	"instance hour",
	"gb transfer",
	"million i/o requests",
	"load balancer hour",
}

var unitPattern = regexp.MustCompile(
	`(?i)(gb-month)|(instance hour)|(gb.*?transfer)|(million i/o requests)|(load[^(]*?hour)`)

// Rule extracts one dimension from one source
type Rule struct {
	Dimension Dimension
	Source    Source
	// From, when set, makes the rule read an already extracted dimension
	// instead of Source
	From    Dimension
	Pattern *regexp.Regexp
	// Group is the capture group holding the value
	Group int
	// Default is returned when Pattern does not match
	Default string
	// Normalize, when set, replaces the captured group with a derived value
	Normalize func(match []string) string
}

// Apply runs the rule against text. It never fails: a non-match yields the
// rule default and matched=false.
func (r Rule) Apply(text string) (value string, matched bool) {
	m := r.Pattern.FindStringSubmatch(text)
	if m == nil {
		return r.Default, false
	}
	if r.Normalize != nil {
		return r.Normalize(m), true
	}
	if r.Group >= len(m) {
		return r.Default, false
	}
	return m[r.Group], true
}

// Override replaces the pattern and/or default of a rule
type Override struct {
	Pattern string  `yaml:"pattern"`
	Default *string `yaml:"default"`
}

// Options configures the rule table
type Options struct {
	OrgPrefix   string                 `yaml:"org_prefix"`
	InfraPrefix string                 `yaml:"infra_prefix"`
	Overrides   map[Dimension]Override `yaml:"overrides"`
}

// DefaultOptions returns the standard naming conventions
func DefaultOptions() Options {
	return Options{
		OrgPrefix:   DefaultOrgPrefix,
		InfraPrefix: DefaultInfraPrefix,
	}
}

// standardRules returns the rule table for the given naming conventions
func standardRules(org, infra string) []Rule {
	org = regexp.QuoteMeta(org)
	infraGroup := ""
	if infra != "" {
		infraGroup = "(?:" + regexp.QuoteMeta(infra) + ")?"
	}

	return []Rule{
		{
			Dimension: Zone,
			Source:    SourceUsageType,
			Pattern:   regexp.MustCompile(`^([A-Z]{3}[0-9])`),
			Group:     1,
		},
		{
			Dimension: AWSService,
			Source:    SourceUsageType,
			Pattern:   regexp.MustCompile(`-([A-Za-z][A-Za-z0-9]*)`),
			Group:     1,
		},
		{
			Dimension: UsageType,
			Source:    SourceUsageType,
			Pattern:   regexp.MustCompile(`-[A-Za-z]+[-:](.+)`),
			Group:     1,
			Default:   OtherUsageType,
		},
		{
			Dimension: Server,
			Source:    SourceName,
			Pattern:   regexp.MustCompile(`^(` + org + `-[a-z0-9-]+)`),
			Group:     1,
		},
		{
			Dimension: Env,
			From:      Server,
			Pattern:   regexp.MustCompile(org + `-[a-z0-9]+-([a-z]+)`),
			Group:     1,
			Default:   NotApplicableEnv,
		},
		{
			Dimension: Service,
			From:      Server,
			Pattern:   regexp.MustCompile(`-` + infraGroup + `([a-z]+)`),
			Group:     1,
			Default:   OtherService,
		},
		{
			Dimension: Device,
			Source:    SourceName,
			Pattern:   regexp.MustCompile(`(swap|/dev/[a-z]+)`),
			Group:     1,
		},
		{
			Dimension: UnitCost,
			Source:    SourceDescription,
			Pattern:   regexp.MustCompile(`\$([0-9.]+)`),
			Group:     1,
		},
		{
			Dimension: Unit,
			Source:    SourceDescription,
			Pattern:   unitPattern,
			Normalize: normalizeUnit,
		},
	}
}

func normalizeUnit(m []string) string {
	for i := 1; i < len(m); i++ {
		if m[i] == "" {
			continue
		}
		if i-1 < len(UnitVocabulary) {
			return UnitVocabulary[i-1]
		}
		return strings.ToLower(m[i])
	}
	return strings.ToLower(m[0])
}

// Rules is an ordered, immutable rule table. Rules reading another
// dimension run after the rule producing it.
type Rules struct {
	ordered []Rule
	index   map[Dimension]int
}

// NewRules builds the rule table, applying any configured overrides
func NewRules(opts Options) (*Rules, error) {
	org := opts.OrgPrefix
	if org == "" {
		org = DefaultOrgPrefix
	}

	rules := standardRules(org, opts.InfraPrefix)
	for i, r := range rules {
		o, ok := opts.Overrides[r.Dimension]
		if !ok {
			continue
		}
		if o.Pattern != "" {
			re, err := regexp.Compile(o.Pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern for %s: %w", r.Dimension, err)
			}
			if r.Normalize == nil && re.NumSubexp() < r.Group {
				return nil, fmt.Errorf("pattern for %s needs at least %d capture group(s)", r.Dimension, r.Group)
			}
			rules[i].Pattern = re
		}
		if o.Default != nil {
			rules[i].Default = *o.Default
		}
	}
	for dim := range opts.Overrides {
		if !containsDimension(rules, dim) {
			return nil, fmt.Errorf("override for unknown dimension %q", dim)
		}
	}

	return Order(rules)
}

// MustDefault returns the standard rule table
func MustDefault() *Rules {
	r, err := NewRules(DefaultOptions())
	if err != nil {
		panic(err)
	}
	return r
}

// Order arranges rules so every rule reading another dimension runs after
// the rule producing it.
func Order(rules []Rule) (*Rules, error) {
	produced := make(map[Dimension]bool, len(rules))
	for _, r := range rules {
		if produced[r.Dimension] {
			return nil, fmt.Errorf("duplicate rule for %s", r.Dimension)
		}
		produced[r.Dimension] = true
	}

	out := &Rules{index: make(map[Dimension]int, len(rules))}
	done := make(map[Dimension]bool, len(rules))
	pending := append([]Rule(nil), rules...)

	for len(pending) > 0 {
		var next []Rule
		for _, r := range pending {
			if r.From != "" && !produced[r.From] {
				return nil, fmt.Errorf("rule for %s reads unknown dimension %s", r.Dimension, r.From)
			}
			if r.From != "" && !done[r.From] {
				next = append(next, r)
				continue
			}
			out.index[r.Dimension] = len(out.ordered)
			out.ordered = append(out.ordered, r)
			done[r.Dimension] = true
		}
		if len(next) == len(pending) {
			return nil, fmt.Errorf("rule dependency cycle involving %s", next[0].Dimension)
		}
		pending = next
	}

	return out, nil
}

// Rule returns the rule for a dimension
func (r *Rules) Rule(dim Dimension) (Rule, bool) {
	i, ok := r.index[dim]
	if !ok {
		return Rule{}, false
	}
	return r.ordered[i], true
}

// Dimensions returns the dimensions in evaluation order
func (r *Rules) Dimensions() []Dimension {
	dims := make([]Dimension, len(r.ordered))
	for i, rule := range r.ordered {
		dims[i] = rule.Dimension
	}
	return dims
}

// Extract applies the rule for dim to text. Unknown dimensions yield an
// empty, unmatched value.
func (r *Rules) Extract(dim Dimension, text string) (string, bool) {
	rule, ok := r.Rule(dim)
	if !ok {
		return "", false
	}
	return rule.Apply(text)
}

// Match is one extracted value
type Match struct {
	Value   string
	Matched bool
}

// Values holds every extracted dimension of one row
type Values map[Dimension]Match

// Get returns the value of a dimension
func (v Values) Get(dim Dimension) string {
	return v[dim].Value
}

// Apply evaluates every rule in dependency order. lookup returns the raw
// text of a source column.
func (r *Rules) Apply(lookup func(Source) string) Values {
	values := make(Values, len(r.ordered))
	for _, rule := range r.ordered {
		var text string
		if rule.From != "" {
			text = values[rule.From].Value
		} else {
			text = lookup(rule.Source)
		}
		value, matched := rule.Apply(text)
		values[rule.Dimension] = Match{Value: value, Matched: matched}
	}
	return values
}

func containsDimension(rules []Rule, dim Dimension) bool {
	for _, r := range rules {
		if r.Dimension == dim {
			return true
		}
	}
	return false
}
