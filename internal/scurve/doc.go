// Package scurve turns scan tables into per-comparator efficiency curves and
// fits each curve to the threshold model
//
//	f(x) = offset + 0.5*erfc((threshold - x) / (sqrt(2)*sigma))
//
// Points carry asymmetric Wilson score errors. The fit minimizes an
// asymmetric chi-square with gonum/optimize inside fixed parameter ranges and
// retries with increasingly robust strategies until a minimum is accepted or
// the attempt budget is spent.
package scurve
