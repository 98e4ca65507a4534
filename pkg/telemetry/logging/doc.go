// Package logging builds the process *slog.Logger.
//
// The logger writes JSON or text, attaches the request, run and mode fields
// stored in a context to every record logged through the *Context methods,
// and masks API keys, bearer tokens and email addresses in string attributes.
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRunID(ctx, run.ID)
//	logger.InfoContext(ctx, "run finished", logging.Query(text))
//
// Question text is never logged verbatim; Query reduces it to a digest and a
// length.
package logging
