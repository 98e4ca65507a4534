// Package router is the entry point of the research engine.
//
// Route classifies a question without an explicit mode, serves it from the
// response cache when possible, and otherwise admits the mode's worst-case
// cost against the quota limiter, runs the mode's graph and settles the
// reservation with actual usage. A run that fails with too short an answer
// is retried once on the next cheaper mode (workflow, deep, medium, auto);
// the retry needs its own admission.
//
//	q, err := router.NewQuery(text, "", "CA-ON", history)
//	resp, err := r.Route(ctx, q)
//	var denied *router.DeniedError
//	if errors.As(err, &denied) {
//	    // 429, Retry-After: denied.RetryAfter
//	}
package router
