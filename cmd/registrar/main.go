// Package main provides the registrar CLI for batch experiments and
// registry inspection.
package main

func main() {
	Execute()
}
