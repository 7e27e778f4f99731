package requestctx

import "context"

// subjectContextKey is the context key for the authenticated token subject.
type subjectContextKey struct{}

// WithSubject stores the verified admin token subject in context.
func WithSubject(ctx context.Context, subject string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext returns the token subject stored in context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(subjectContextKey{}).(string)
	return value
}
