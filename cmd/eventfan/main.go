// Command eventfan runs the event fan-out demo shop.
package main

func main() {
	Execute()
}
