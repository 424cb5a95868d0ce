package registry

import "context"

// projectKey is a private type for the project context key, preventing
// collisions with other packages.
type projectKey struct{}

// SetProject injects a project identifier into the context. Surveys
// and working groups register scripts under their own project.
func SetProject(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectKey{}, projectID)
}

// GetProject extracts the project identifier from the context.
// Returns an empty string if no project is set (single-project mode).
func GetProject(ctx context.Context) string {
	if v, ok := ctx.Value(projectKey{}).(string); ok {
		return v
	}
	return ""
}
