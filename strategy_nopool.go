//go:build sqlsource_nopool

package sqlsource

// Builds tagged sqlsource_nopool ship without the pooling layer by default.
const defaultStrategy = StrategyDirect
