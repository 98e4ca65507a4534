// Package tokens provides character-based token estimation for generation
// prompts and outputs.
//
// Estimates drive two decisions in the engine:
//
//   - Admission: the router reserves an estimated token amount per mode
//     before any work starts.
//   - Budget truncation: the workflow executor cuts a step's output down to
//     its token ceiling when the generation function overshoots.
//
// The estimator uses a characters-per-token ratio (about 4 for current
// OpenAI chat models). It never undercounts a non-empty string as zero.
//
//	est := tokens.NewEstimator(4.0)
//	n := est.EstimateText(prompt)
//	cut := est.Truncate(output, 500)
package tokens
