//go:build !production

package main

const buildIsProduction = false
