// Command shopd serves the demo shop.
package main

func main() {
	Execute()
}
