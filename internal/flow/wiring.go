package flow

import (
	"strconv"

	"github.com/yanun0323/errors"

	"main/internal/bus"
	"main/internal/schema"
)

// SourceOrigin marks a wiring rule whose event is injected from outside the
// worker set (the origin of a run) rather than produced by a worker.
const SourceOrigin = "origin"

var (
	ErrUnknownWorker    = errors.New("wiring references unknown worker")
	ErrUnknownConnector = errors.New("wiring references unknown connector")
	ErrUnknownHandler   = errors.New("manifest references unknown handler")
	ErrPayloadMismatch  = errors.New("producer and consumer disagree on payload kind")
	ErrScopeConflict    = errors.New("rules targeting one worker disagree on scope")
	ErrUnmetRequirement = errors.New("required record kind is produced by no worker")
	ErrNoRules          = errors.New("wiring has no rules")
)

// Rule wires one source connector to one target handler through a topic.
// Rules are produced by an external configuration collaborator and consumed
// here as an opaque, to-be-validated artifact.
type Rule struct {
	Source string // worker name, or SourceOrigin for injected events
	Output string // source output connector, empty for SourceOrigin
	Topic  string
	Scope  bus.Scope
	Target string // worker name
	Input  string // target input connector
}

type resolvedRule struct {
	rule    Rule
	topic   bus.TopicID
	target  string
	input   InputConnector
	payload schema.RecordKind
}

// validate checks every rule against the worker manifests. It runs once at
// bootstrap; any failure fails bootstrap closed, so none of these checks
// are repeated on the hot path.
func validate(workers map[string]Worker, rules []Rule, topics *bus.TopicRegistry) ([]resolvedRule, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	// Every manifest handler must exist on its worker before any wiring is
	// considered.
	for name, w := range workers {
		handlers := w.Handlers()
		for _, in := range w.Manifest().Inputs {
			if _, ok := handlers[in.Handler]; !ok {
				return nil, errors.Wrap(ErrUnknownHandler, name+"."+in.Handler)
			}
		}
	}

	produced := make(map[schema.RecordKind]bool)
	for _, w := range workers {
		for _, kind := range w.Manifest().Produces {
			produced[kind] = true
		}
	}
	for name, w := range workers {
		for _, kind := range w.Manifest().Requires {
			if !produced[kind] {
				return nil, errors.Wrap(ErrUnmetRequirement, name+" requires "+kind.String())
			}
		}
	}

	resolved := make([]resolvedRule, 0, len(rules))
	scopes := make(map[string]bus.Scope)
	for i, rule := range rules {
		var outPayload schema.RecordKind
		if rule.Source != SourceOrigin {
			src, ok := workers[rule.Source]
			if !ok {
				return nil, errors.Wrap(ErrUnknownWorker, ruleAt(i, "source "+rule.Source))
			}
			out, ok := src.Manifest().Output(rule.Output)
			if !ok {
				return nil, errors.Wrap(ErrUnknownConnector, ruleAt(i, rule.Source+"."+rule.Output))
			}
			outPayload = out.Payload
		}

		dst, ok := workers[rule.Target]
		if !ok {
			return nil, errors.Wrap(ErrUnknownWorker, ruleAt(i, "target "+rule.Target))
		}
		in, ok := dst.Manifest().Input(rule.Input)
		if !ok {
			return nil, errors.Wrap(ErrUnknownConnector, ruleAt(i, rule.Target+"."+rule.Input))
		}

		if rule.Source != SourceOrigin && outPayload != in.Payload {
			return nil, errors.Wrap(ErrPayloadMismatch,
				ruleAt(i, rule.Source+"."+rule.Output+" -> "+rule.Target+"."+rule.Input))
		}

		if prev, ok := scopes[rule.Target]; ok && prev != rule.Scope {
			return nil, errors.Wrap(ErrScopeConflict, ruleAt(i, rule.Target))
		}
		scopes[rule.Target] = rule.Scope

		topic, err := topics.Intern(rule.Topic)
		if err != nil {
			return nil, errors.Wrap(err, ruleAt(i, "topic"))
		}

		resolved = append(resolved, resolvedRule{
			rule:    rule,
			topic:   topic,
			target:  rule.Target,
			input:   in,
			payload: in.Payload,
		})
	}
	return resolved, nil
}

func ruleAt(i int, detail string) string {
	return "rule #" + strconv.Itoa(i) + ": " + detail
}
