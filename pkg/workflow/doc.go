// Package workflow executes the fixed step graph bound to each research
// mode.
//
// A Graph is an ordered list of Nodes. A Node is a tagged variant: a Step
// leaf, a Parallel fan-out whose branches are joined before the next node,
// or a Branch whose predicate over the run state picks one of two nodes.
// One Executor interprets every graph:
//
//	graphs, err := workflow.DefaultGraphs(cfg.Modes)
//	exec := workflow.NewExecutor(retriever, searcher, generator, estimator)
//	run, err := exec.Execute(ctx, graphs[workflow.ModeDeep], workflow.Input{Question: q})
//
// Every generating step gets min(step ceiling, remaining run budget) tokens.
// Steps reserve their budget before running and release the unused part, so
// parallel branches never overspend the run ceiling. A step whose generation
// reports more than its budget is truncated and marked budget_exceeded; a
// step with no budget left is skipped. Step failures never abort a run. A
// run fails only when its final answer is shorter than the mode minimum or
// its context is canceled.
package workflow
