package main

import "github.com/moneybenn-online/salt/cmd"

func main() {
	cmd.Execute()
}
