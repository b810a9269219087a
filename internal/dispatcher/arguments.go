package dispatcher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/marigold-ai/concierge"
)

// Proposed arguments may reference earlier outputs instead of carrying
// literal values:
//
//	"$step1"          whole output map of step 1
//	"$step1.count"    a single field of step 1's output
//	"expr:step1_count * 2"  an expression over prior step fields
//
// References resolve only against successful steps; anything else fails the
// call with an argument-resolution error.

var stepRefPattern = regexp.MustCompile(`^\$step(\d+)(?:\.([A-Za-z0-9_]+))?$`)

const exprPrefix = "expr:"

// exprFunctionRegistry holds custom functions available to expression
// arguments.
type exprFunctionRegistry struct {
	functions map[string]govaluate.ExpressionFunction
}

var globalExprFunctions = &exprFunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}

// RegisterExpressionFunction registers a custom function for expression
// arguments. Call at startup only.
func RegisterExpressionFunction(name string, fn govaluate.ExpressionFunction) {
	globalExprFunctions.functions[name] = fn
}

func expressionFunctions() map[string]govaluate.ExpressionFunction {
	functions := make(map[string]govaluate.ExpressionFunction, len(globalExprFunctions.functions))
	for name, fn := range globalExprFunctions.functions {
		functions[name] = fn
	}
	return functions
}

// ResolveArguments materializes a proposed call's arguments against the
// session trace. Literal values pass through untouched.
func ResolveArguments(arguments map[string]interface{}, session *concierge.Session) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(arguments))

	for name, value := range arguments {
		str, isString := value.(string)
		if !isString {
			resolved[name] = value
			continue
		}

		switch {
		case stepRefPattern.MatchString(str):
			out, err := resolveStepReference(str, session)
			if err != nil {
				return nil, concierge.NewArgResolutionError("dispatch", "", name, err)
			}
			resolved[name] = out

		case strings.HasPrefix(str, exprPrefix):
			out, err := evaluateExpression(strings.TrimPrefix(str, exprPrefix), session)
			if err != nil {
				return nil, concierge.NewArgResolutionError("dispatch", "", name, err)
			}
			resolved[name] = out

		default:
			resolved[name] = value
		}
	}

	return resolved, nil
}

// resolveStepReference looks up a "$stepN" or "$stepN.field" reference.
func resolveStepReference(ref string, session *concierge.Session) (interface{}, error) {
	m := stepRefPattern.FindStringSubmatch(ref)
	step, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("invalid step reference %q", ref)
	}

	output, ok := session.StepOutput(step)
	if !ok {
		return nil, fmt.Errorf("step %d has no successful output", step)
	}

	if m[2] == "" {
		return output, nil
	}

	value, exists := output[m[2]]
	if !exists {
		return nil, fmt.Errorf("step %d output has no field '%s'", step, m[2])
	}
	return value, nil
}

// evaluateExpression evaluates an "expr:" argument with every successful
// step's output fields bound as step<N>_<field> variables.
func evaluateExpression(expr string, session *concierge.Session) (interface{}, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty expression")
	}

	parameters := make(map[string]interface{})
	for _, entry := range session.Trace {
		if !entry.Succeeded {
			continue
		}
		for field, value := range entry.Output {
			parameters[fmt.Sprintf("step%d_%s", entry.Step, field)] = value
		}
	}

	evalExpr, err := govaluate.NewEvaluableExpressionWithFunctions(expr, expressionFunctions())
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", expr, err)
	}

	result, err := evalExpr.Evaluate(parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}

	return result, nil
}

// ValidateExpression checks an expression argument at registration time.
func ValidateExpression(expr string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expr, expressionFunctions())
	return err
}
