//go:build !sqlsource_nopool

package sqlsource

const defaultStrategy = StrategyPooled
