// Package prompt turns a raw user prompt into the prompt sent to providers.
//
// Transformations run in a fixed order:
//  1. custom variables substitute {name} and $name placeholders
//  2. Mixup shuffles comma separated segments
//  3. Mashup shuffles words
//  4. Multiplier modifiers are appended
//  5. prompt helper suffixes are appended
//
// Randomness comes from the Builder's *rand.Rand so results are
// reproducible under a fixed seed.
package prompt

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// MaxPromptLength bounds both the raw and the built prompt.
const MaxPromptLength = 4000

var (
	// ErrInvalidPrompt is returned for empty, oversized or binary prompts.
	ErrInvalidPrompt = errors.New("prompt: invalid prompt")

	// ErrInvalidVariables is returned when custom variables cannot be parsed.
	ErrInvalidVariables = errors.New("prompt: invalid custom variables")

	// ErrUnknownHelper is returned for a prompt helper with no registered suffix.
	ErrUnknownHelper = errors.New("prompt: unknown prompt helper")
)

// Options selects the transformations applied by Build.
type Options struct {
	// Multiplier is a comma separated list of modifiers appended to the prompt.
	Multiplier string `json:"multiplier,omitempty"`
	Mixup      bool   `json:"mixup,omitempty"`
	Mashup     bool   `json:"mashup,omitempty"`
	// CustomVariables uses the form "name=value1|value2;other=value".
	CustomVariables string   `json:"customVariables,omitempty"`
	PromptHelpers   []string `json:"promptHelpers,omitempty"`
}

// Built is the outcome of Build. Original is the raw prompt, untouched.
type Built struct {
	Original string `json:"original"`
	Prompt   string `json:"prompt"`
}

// Processor builds provider prompts.
type Processor interface {
	Build(raw string, opts Options) (Built, error)
}

// DefaultHelpers maps helper names to the suffix they append.
var DefaultHelpers = map[string]string{
	"photorealistic": "photorealistic, natural lighting, high detail",
	"cinematic":      "cinematic composition, dramatic lighting, film grain",
	"illustration":   "digital illustration, clean line art, vibrant colors",
	"anime":          "anime style, cel shading",
	"portrait":       "portrait, shallow depth of field, 85mm lens",
	"landscape":      "wide angle landscape, golden hour",
	"hdr":            "HDR, high dynamic range",
	"sharp":          "sharp focus, highly detailed",
}

// Builder is the default Processor.
//
// Thread Safety: Builder is safe for concurrent use.
type Builder struct {
	mu      sync.Mutex
	rng     *rand.Rand
	helpers map[string]string
}

// NewBuilder creates a Builder. A nil rng is seeded from the clock.
func NewBuilder(rng *rand.Rand) *Builder {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Builder{rng: rng, helpers: DefaultHelpers}
}

// WithHelpers replaces the helper table.
func (b *Builder) WithHelpers(helpers map[string]string) *Builder {
	b.helpers = helpers
	return b
}

// Build applies opts to raw.
func (b *Builder) Build(raw string, opts Options) (Built, error) {
	if err := Validate(raw); err != nil {
		return Built{}, err
	}
	out := strings.TrimSpace(raw)

	b.mu.Lock()
	defer b.mu.Unlock()

	if opts.CustomVariables != "" {
		vars, err := ParseVariables(opts.CustomVariables)
		if err != nil {
			return Built{}, err
		}
		out = b.substitute(out, vars)
	}
	if opts.Mixup {
		out = b.mixup(out)
	}
	if opts.Mashup {
		out = b.mashup(out)
	}
	if mods := joinNonEmpty(strings.Split(opts.Multiplier, ",")); mods != "" {
		out = out + ", " + mods
	}
	for _, name := range opts.PromptHelpers {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		suffix, ok := b.helpers[name]
		if !ok {
			return Built{}, fmt.Errorf("%w: %q", ErrUnknownHelper, name)
		}
		out = out + ", " + suffix
	}

	if len(out) > MaxPromptLength {
		return Built{}, fmt.Errorf("%w: built prompt length %d exceeds maximum %d", ErrInvalidPrompt, len(out), MaxPromptLength)
	}
	return Built{Original: raw, Prompt: out}, nil
}

// Validate checks a raw prompt.
func Validate(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: prompt cannot be empty", ErrInvalidPrompt)
	}
	if strings.ContainsRune(raw, '\x00') {
		return fmt.Errorf("%w: prompt contains null bytes", ErrInvalidPrompt)
	}
	if len(raw) > MaxPromptLength {
		return fmt.Errorf("%w: prompt length %d exceeds maximum %d", ErrInvalidPrompt, len(raw), MaxPromptLength)
	}
	return nil
}

var variableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseVariables parses "name=value1|value2;other=value" into a map of
// candidate values. Empty entries are ignored.
func ParseVariables(spec string) (map[string][]string, error) {
	vars := make(map[string][]string)
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, values, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || !variableName.MatchString(name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVariables, entry)
		}
		var choices []string
		for _, v := range strings.Split(values, "|") {
			if v = strings.TrimSpace(v); v != "" {
				choices = append(choices, v)
			}
		}
		if len(choices) == 0 {
			return nil, fmt.Errorf("%w: %q has no values", ErrInvalidVariables, name)
		}
		vars[name] = choices
	}
	return vars, nil
}

// substitute replaces {name} and $name with one value chosen per variable.
// Names are visited in sorted order so a fixed seed gives a fixed result.
func (b *Builder) substitute(s string, vars map[string][]string) string {
	for _, name := range sortedKeys(vars) {
		choices := vars[name]
		value := choices[b.rng.Intn(len(choices))]
		s = strings.ReplaceAll(s, "{"+name+"}", value)
		dollar := regexp.MustCompile(`\$` + regexp.QuoteMeta(name) + `\b`)
		s = dollar.ReplaceAllLiteralString(s, value)
	}
	return s
}

func (b *Builder) mixup(s string) string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	b.rng.Shuffle(len(parts), func(i, j int) { parts[i], parts[j] = parts[j], parts[i] })
	return joinNonEmpty(parts)
}

func (b *Builder) mashup(s string) string {
	words := strings.Fields(s)
	b.rng.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	return strings.Join(words, " ")
}

func joinNonEmpty(parts []string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Processor = (*Builder)(nil)
