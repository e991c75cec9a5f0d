package router

import (
	"strings"
	"unicode"

	"github.com/zen-systems/routegate/pkg/config"
)

// Classifier maps request text to a task category using the fixed keyword
// table. It never fails: unmatched text falls through to the general category.
type Classifier struct {
	tasks          []compiledTask
	defaultBackend string
}

type compiledTask struct {
	name    string
	backend string
	words   map[string]struct{}
	phrases []string
}

// NewClassifier compiles the task types of cfg in declaration order.
func NewClassifier(cfg *config.RoutingConfig) *Classifier {
	c := &Classifier{defaultBackend: cfg.DefaultBackend}
	for _, task := range cfg.TaskTypes {
		ct := compiledTask{
			name:    task.Name,
			backend: task.Backend,
			words:   make(map[string]struct{}),
		}
		for _, kw := range task.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if isSingleToken(kw) {
				ct.words[kw] = struct{}{}
			} else {
				ct.phrases = append(ct.phrases, kw)
			}
		}
		c.tasks = append(c.tasks, ct)
	}
	return c
}

// Classify returns the first declared category whose keywords intersect the
// tokens of text.
func (c *Classifier) Classify(text string) Classification {
	cls, _ := c.classify(text)
	return cls
}

// classify also reports the keyword that decided the match.
func (c *Classifier) classify(text string) (Classification, string) {
	lower := strings.ToLower(text)
	tokens := tokenize(lower)

	for _, task := range c.tasks {
		for _, tok := range tokens {
			if _, ok := task.words[tok]; ok {
				return Classification{Category: task.name, Backend: task.backend}, tok
			}
		}
		for _, phrase := range task.phrases {
			if containsTrigger(lower, phrase) {
				return Classification{Category: task.name, Backend: task.backend}, phrase
			}
		}
	}
	return Classification{Category: config.GeneralTask, Backend: c.defaultBackend}, ""
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isSingleToken(kw string) bool {
	toks := tokenize(kw)
	return len(toks) == 1 && toks[0] == kw
}

// containsTrigger checks if the prompt contains the trigger phrase at word
// boundaries.
func containsTrigger(prompt, trigger string) bool {
	offset := 0
	for {
		idx := strings.Index(prompt[offset:], trigger)
		if idx == -1 {
			return false
		}
		idx += offset
		endIdx := idx + len(trigger)

		before := idx == 0 || !isWordChar(prompt[idx-1])
		after := endIdx >= len(prompt) || !isWordChar(prompt[endIdx])
		if before && after {
			return true
		}
		offset = idx + 1
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
