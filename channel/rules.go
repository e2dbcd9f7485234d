package channel

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// DefaultPriority is the priority of rules that don't declare one. Rules are
// applied from lowest to highest priority.
const DefaultPriority = 0.7

// Built-in rule names.
const (
	ShowCategoryName  = "ShowCategory"
	ShowLineCountName = "ShowLineCount"
)

// ApplyFunc transforms message, the output of the previous rule, for e.
type ApplyFunc func(e Entry, message string) string

// Rule is a named, prioritized text transform. A rule may be temporarily
// overridden by another rule, whose output is then used instead.
type Rule struct {
	mu        sync.RWMutex
	name      string
	priority  float64
	enabled   bool
	readOnly  bool
	temporary bool
	override  *Rule
	apply     ApplyFunc
}

// NewRule returns a rule. A nil fn leaves messages unchanged.
func NewRule(name string, priority float64, enabled bool, fn ApplyFunc) *Rule {
	return &Rule{
		name:     name,
		priority: priority,
		enabled:  enabled,
		apply:    fn,
	}
}

// ShowCategoryRule prefixes messages with their category.
func ShowCategoryRule(enabled bool) *Rule {
	return NewRule(ShowCategoryName, 0.995, enabled, func(e Entry, message string) string {
		return "[" + e.Category.String() + "] " + message
	})
}

// ShowLineCountRule prefixes messages with a running line number. Each rule
// instance counts separately.
func ShowLineCountRule(enabled bool) *Rule {
	var n atomic.Int64
	return NewRule(ShowLineCountName, 1.0, enabled, func(e Entry, message string) string {
		return strconv.FormatInt(n.Add(1), 10) + " " + message
	})
}

// Name returns the rule name. Rules with the same name are interchangeable
// within a RuleList.
func (r *Rule) Name() string {
	return r.name
}

// Priority returns the effective priority, taken from the override when one
// is set.
func (r *Rule) Priority() float64 {
	if o := r.Override(); o != nil {
		return o.Priority()
	}
	return r.priority
}

// Enabled returns the effective enabled state.
func (r *Rule) Enabled() bool {
	if o := r.Override(); o != nil {
		return o.Enabled()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// SetEnabled toggles the rule, or its override when one is set. Read-only
// rules ignore the call.
func (r *Rule) SetEnabled(v bool) {
	if o := r.Override(); o != nil {
		o.SetEnabled(v)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readOnly {
		return
	}
	r.enabled = v
}

// SetReadOnly freezes or unfreezes the enabled state.
func (r *Rule) SetReadOnly(v bool) {
	r.mu.Lock()
	r.readOnly = v
	r.mu.Unlock()
}

// IsTemporary reports whether the rule is currently installed as an override.
func (r *Rule) IsTemporary() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.temporary
}

// Override returns the rule currently overriding r, if any.
func (r *Rule) Override() *Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.override
}

// SetOverride installs o in place of r. Passing nil removes the override. A
// rule can't override itself and an override can't have its own override.
func (r *Rule) SetOverride(o *Rule) {
	if o == r {
		return
	}
	r.mu.Lock()
	prev := r.override
	r.override = o
	r.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		prev.temporary = false
		prev.mu.Unlock()
	}
	if o != nil {
		o.mu.Lock()
		o.temporary = true
		o.override = nil
		o.mu.Unlock()
	}
}

// Apply transforms message. When an override is set its output is used
// verbatim in place of r's.
func (r *Rule) Apply(e Entry, message string) string {
	if o := r.Override(); o != nil {
		return o.applySelf(e, message)
	}
	return r.applySelf(e, message)
}

func (r *Rule) applySelf(e Entry, message string) string {
	if r.apply == nil {
		return message
	}
	return r.apply(e, message)
}

// RuleList is an ordered set of rules, unique by name.
type RuleList struct {
	mu    sync.RWMutex
	rules []*Rule
}

// NewRuleList returns an empty list.
func NewRuleList() *RuleList {
	return &RuleList{}
}

// Add inserts r, replacing any rule with the same name.
func (l *RuleList) Add(r *Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.rules {
		if existing.Name() == r.Name() {
			l.rules[i] = r
			return
		}
	}
	l.rules = append(l.rules, r)
}

// Remove deletes the named rule, returning whether it was present.
func (l *RuleList) Remove(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, r := range l.rules {
		if r.Name() == name {
			l.rules = append(l.rules[:i], l.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the named rule.
func (l *RuleList) Get(name string) (*Rule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.rules {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// Rules returns the rules in application order.
func (l *RuleList) Rules() []*Rule {
	l.mu.RLock()
	rules := make([]*Rule, len(l.rules))
	copy(rules, l.rules)
	l.mu.RUnlock()

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority() < rules[j].Priority()
	})
	return rules
}

// Apply renders e through every enabled rule.
func (l *RuleList) Apply(e Entry) string {
	message := e.Message
	if l == nil {
		return message
	}
	for _, r := range l.Rules() {
		if r.Enabled() {
			message = r.Apply(e, message)
		}
	}
	return message
}
