package shared

import "context"

// Operator roles. Admin unlocks supervisor actions such as void approval.
const (
	RoleAdmin    = "ADMIN"
	RoleOperator = "OPERATOR"
)

// Operator is the identity supplied by the auth collaborator. The core
// trusts it and never re-verifies credentials.
type Operator struct {
	ID   int64
	Role string
}

type operatorContextKey struct{}

// ContextWithOperator stores the operator identity in context.
func ContextWithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, op)
}

// OperatorFromContext extracts the operator identity from context.
// The zero Operator means the request is unauthenticated.
func OperatorFromContext(ctx context.Context) Operator {
	op, _ := ctx.Value(operatorContextKey{}).(Operator)
	return op
}
