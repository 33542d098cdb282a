//go:build !debug

package binance

const debugBuild = false
