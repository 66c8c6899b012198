package quality

import (
	"context"
	"log/slog"
)

// Fallback answers from primary and asks secondary for whatever primary
// could not score. When primary fails the whole batch goes to secondary.
func Fallback(primary, secondary Source) Source {
	return &fallback{
		primary:   primary,
		secondary: secondary,
		logger:    slog.Default().With("component", "quality-fallback"),
	}
}

type fallback struct {
	primary   Source
	secondary Source
	logger    *slog.Logger
}

func (f *fallback) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *fallback) Lookup(ctx context.Context, keys []Key) ([]Result, error) {
	results, err := f.primary.Lookup(ctx, keys)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		f.logger.Warn("primary source failed, using fallback",
			"primary", f.primary.Name(),
			"fallback", f.secondary.Name(),
			"keys", len(keys),
			"error", err,
		)
		return f.secondary.Lookup(ctx, keys)
	}

	var missing []Key
	var at []int
	for i, r := range results {
		if !r.Found {
			missing = append(missing, keys[i])
			at = append(at, i)
		}
	}
	if len(missing) == 0 {
		return results, nil
	}
	filled, err := f.secondary.Lookup(ctx, missing)
	if err != nil {
		f.logger.Warn("fallback source failed", "fallback", f.secondary.Name(), "error", err)
		return results, nil
	}
	for j, r := range filled {
		results[at[j]] = r
	}
	return results, nil
}
