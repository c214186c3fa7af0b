// Command desim runs the example models of the desim simulation engine.
package main

func main() {
	Execute()
}
