package alerting

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/good-yellow-bee/origami/internal/models"
)

// ExprMatcher compiles and evaluates expr-lang expressions against packets.
//
// Payload fields are exposed as top-level variables. The packet envelope is
// available as data_type, source_id and domain_id, and the whole payload as
// fields.
type ExprMatcher struct {
	expression string
	program    *vm.Program
}

// NewExprMatcher creates a new ExprMatcher for the given expression.
func NewExprMatcher(expression string) (*ExprMatcher, error) {
	// Payload shapes vary per data type so variables cannot be type checked
	// up front. Missing ones evaluate to nil.
	program, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return &ExprMatcher{expression: expression, program: program}, nil
}

// Match evaluates the expression. A runtime error, for example comparing a
// missing field with a number, is returned with a false result.
func (m *ExprMatcher) Match(packet models.DataPacket, fields models.Fields) (bool, error) {
	result, err := expr.Run(m.program, buildEnv(packet, fields))
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool: got %T", result)
	}
	return matched, nil
}

// Expression returns the original expression string.
func (m *ExprMatcher) Expression() string {
	return m.expression
}

func buildEnv(packet models.DataPacket, fields models.Fields) map[string]any {
	env := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		env[k] = v
	}
	env["data_type"] = packet.DataType
	env["source_id"] = packet.SourceID
	env["domain_id"] = packet.DomainID
	if fields == nil {
		fields = models.Fields{}
	}
	env["fields"] = map[string]any(fields)
	return env
}
