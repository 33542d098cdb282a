//go:build debug

package binance

// debugBuild enables raw response dumps under debug.dump_dir.
const debugBuild = true
