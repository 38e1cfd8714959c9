package param

import "context"

type Fetcher interface {
	Fetch(context.Context, string) (string, error)
}

// Resolve returns value when set, otherwise the parameter stored under name.
// Both empty resolves to "".
func Resolve(ctx context.Context, f Fetcher, value, name string) (string, error) {
	if value != "" || name == "" {
		return value, nil
	}
	return f.Fetch(ctx, name)
}
