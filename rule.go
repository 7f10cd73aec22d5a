package callback

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Rule selects among several handlers registered on the same topic. Match is
// a CEL expression over the variable "event", for example:
//
//	event.type == "order.created" && event.data.total > 100
//
// Lower Priority values are evaluated first. Rules with equal priority are
// evaluated in registration order.
type Rule struct {
	Match    string
	Priority int

	program cel.Program
}

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func ruleEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

// compileRule parses and checks a rule expression.
func compileRule(expr string, priority int) (*Rule, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidRule)
	}
	env, err := ruleEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRule, expr, iss.Err())
	}
	switch ast.OutputType().String() {
	case cel.BoolType.String(), cel.DynType.String():
	default:
		return nil, fmt.Errorf("%w: %q evaluates to %s, want bool", ErrInvalidRule, expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRule, expr, err)
	}
	return &Rule{Match: expr, Priority: priority, program: prg}, nil
}

// Eval reports whether the rule matches the event. An evaluation error (for
// example a missing field) or a non-boolean result counts as no match.
func (r *Rule) Eval(e *TopicEvent) (bool, error) {
	out, _, err := r.program.Eval(map[string]any{"event": activation(e)})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q returned %T", r.Match, out.Value())
	}
	return b, nil
}

// activation exposes an event to CEL. Extensions are merged in first so the
// standard attributes always win.
func activation(e *TopicEvent) map[string]any {
	m := make(map[string]any, len(e.Extensions)+10)
	for k, v := range e.Extensions {
		m[k] = v
	}
	m["id"] = e.ID
	m["source"] = e.Source
	m["type"] = e.Type
	m["specversion"] = e.SpecVersion
	m["datacontenttype"] = e.DataContentType
	m["subject"] = e.Subject
	m["time"] = e.Time
	m["topic"] = e.Topic
	m["pubsubname"] = e.PubsubName
	m["data"] = e.Data
	return m
}
