//go:build production

package main

// buildIsProduction mirrors the Cargo "production" feature: when this
// binary is compiled with -tags production, --debug must never be set.
const buildIsProduction = true
