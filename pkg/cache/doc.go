// Package cache holds research responses keyed by normalized question, mode
// and jurisdiction.
//
// The cache is an accelerator, not a source of truth. Every backend error is
// swallowed: a failing store behaves like an empty one. TTLs come from a
// TTLPolicy that shortens them for questions about recent events and scales
// them by mode otherwise.
//
//	key := cache.NewKey(q.Text(), string(q.Mode()), q.Jurisdiction())
//	if entry, ok := c.Get(ctx, key); ok {
//	    return entry
//	}
//	...
//	c.Set(ctx, key, entry, c.TTLFor(q.Text(), string(q.Mode())))
package cache
