// Command greeter watches a camera feed through the recognition service and
// greets the people it sees.
package main

func main() {
	Execute()
}
